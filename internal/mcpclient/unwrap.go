package mcpclient

import (
	"encoding/json"

	"github.com/standardbeagle/mcpbroker/internal/mcperr"
)

// unwrapContentProbe is the shape checked at each descent step and at the
// fixed point: the only fields the heuristic reads.
type unwrapContentProbe struct {
	IsError bool `json:"isError"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// unwrapToolResult implements the tools/call result-unwrapping
// heuristic: descend through single-key wrapper objects until a
// `content` field is found or the node can no longer descend, then reject
// on isError or return the node verbatim. unwrap(unwrap(x)) == unwrap(x)
// for all inputs: a node already satisfying the stop condition is
// returned unchanged on a second pass.
func unwrapToolResult(raw json.RawMessage) (json.RawMessage, error) {
	node := raw
	for {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil {
			break // not a JSON object; cannot descend further
		}
		if _, hasContent := obj["content"]; hasContent {
			break
		}
		if len(obj) != 1 {
			break // ambiguous multi-key object with no content field
		}
		for _, v := range obj {
			node = v
		}
	}

	var probe unwrapContentProbe
	if err := json.Unmarshal(node, &probe); err == nil && probe.IsError {
		msg := "tool call reported an error"
		if len(probe.Content) > 0 && probe.Content[0].Text != "" {
			msg = probe.Content[0].Text
		}
		return nil, mcperr.New(mcperr.InternalError, "%s", msg).WithData(json.RawMessage(node))
	}
	return node, nil
}
