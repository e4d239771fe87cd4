package controlplane

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/standardbeagle/mcpbroker/internal/mcpclient"
	"github.com/standardbeagle/mcpbroker/internal/mcperr"
	"github.com/standardbeagle/mcpbroker/internal/registry"
	"github.com/standardbeagle/mcpbroker/internal/schema"
	"github.com/standardbeagle/mcpbroker/internal/settings"
)

// ServerConfigPublic is ServerEntry with env stripped; environment
// variables never leave the broker.
type ServerConfigPublic struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// ServerSummary is one row of GET /servers.
type ServerSummary struct {
	Name          string             `json:"name"`
	IsRunning     bool               `json:"isRunning"`
	Config        ServerConfigPublic `json:"config"`
	Capabilities  json.RawMessage    `json:"capabilities,omitempty"`
	Enabled       bool               `json:"enabled"`
	DisabledTools []string           `json:"disabledTools"`
	CachedTools   json.RawMessage    `json:"cachedTools,omitempty"`
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]ServerSummary, 0, len(doc.MCPServers))
	for name, entry := range doc.MCPServers {
		var caps json.RawMessage
		running := false
		if client, ok := h.reg.Get(name); ok {
			running = client.State() == mcpclient.StateReady
			caps = client.ServerCapabilities()
		}
		disabledTools := doc.DisabledTools[name]
		if disabledTools == nil {
			disabledTools = []string{}
		}
		out = append(out, ServerSummary{
			Name:          name,
			IsRunning:     running,
			Config:        ServerConfigPublic{Command: entry.Command, Args: entry.Args, URL: entry.URL},
			Capabilities:  caps,
			Enabled:       !doc.IsServerDisabled(name),
			DisabledTools: disabledTools,
			CachedTools:   doc.CachedTools[name],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type addServerRequest struct {
	Name   string               `json:"name"`
	Config registry.ServerEntry `json:"config"`
}

func (h *Handler) addServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry := req.Config
	entry.Name = req.Name
	if err := validateEntry(entry); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.AddServer(r.Context(), entry); err != nil {
		if errors.Is(err, settings.ErrDuplicateName) {
			writeErrorMsg(w, http.StatusConflict, "server name already exists")
			return
		}
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func validateEntry(entry registry.ServerEntry) error {
	if entry.Name == "" {
		return errors.New("name is required")
	}
	switch entry.TransportKind {
	case registry.TransportStdio:
		if entry.Command == "" {
			return errors.New("command is required for a stdio server")
		}
	case registry.TransportSSE, registry.TransportStreamableHTTP:
		parsed, err := url.Parse(entry.URL)
		if err != nil || !parsed.IsAbs() {
			return errors.New("url must be an absolute URL")
		}
	default:
		return errors.New("type must be one of stdio, sse, streamableHttp")
	}
	return nil
}

func (h *Handler) deleteServer(w http.ResponseWriter, r *http.Request) {
	name := nameFromPath(r)
	if err := h.store.DeleteServer(r.Context(), h.reg, name); err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (h *Handler) setDisabledServers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisabledServers []string `json:"disabledServers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "disabledServers must be an array of strings")
		return
	}
	if err := h.store.SetDisabledServers(r.Context(), req.DisabledServers); err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (h *Handler) startServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	doc, err := h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	entry, ok := doc.MCPServers[name]
	if !ok {
		writeErrorMsg(w, http.StatusNotFound, "unknown server")
		return
	}
	if doc.IsServerDisabled(name) {
		writeErrorMsg(w, http.StatusForbidden, "server is disabled")
		return
	}

	if err := h.reg.Start(ctx, name, entry); err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (h *Handler) stopServer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	if _, running := h.reg.Get(name); !running {
		writeErrorMsg(w, http.StatusBadRequest, "server is not running")
		return
	}
	if err := h.reg.Stop(ctx, name); err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (h *Handler) listTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	doc, err := h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, ok := doc.MCPServers[name]; !ok {
		writeErrorMsg(w, http.StatusNotFound, "unknown server")
		return
	}

	tools, err := h.cache.ListWithStatus(ctx, name)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

func (h *Handler) setDisabledTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	var req struct {
		DisabledTools []string `json:"disabledTools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "disabledTools must be an array of strings")
		return
	}

	if err := h.store.SetDisabledTools(ctx, name, req.DisabledTools); err != nil {
		var mcpErr *mcperr.Error
		if mcperr.As(err, &mcpErr) {
			writeErrorMsg(w, http.StatusNotFound, mcpErr.Message)
			return
		}
		writeErrorMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (h *Handler) reloadTools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	doc, err := h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, ok := doc.MCPServers[name]; !ok {
		writeErrorMsg(w, http.StatusNotFound, "unknown server")
		return
	}

	tools, err := h.cache.ReloadCache(ctx, name)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}

	doc, err = h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]toolcacheAnnotated, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolcacheAnnotated{ToolDescriptor: t, Enabled: !doc.IsToolDisabled(name, t.Name)})
	}
	writeJSON(w, http.StatusOK, out)
}

// toolcacheAnnotated mirrors toolcache.AnnotatedTool's JSON shape; kept
// local so this file doesn't need to import toolcache just for the
// struct literal used after a forced reload.
type toolcacheAnnotated struct {
	mcpclient.ToolDescriptor
	Enabled bool `json:"_enabled"`
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := nameFromPath(r)

	var req struct {
		ToolName  string          `json:"toolName"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	client, running := h.reg.Get(name)
	if !running || client.State() != mcpclient.StateReady {
		writeErrorMsg(w, http.StatusBadRequest, "server is not running")
		return
	}

	doc, err := h.store.Read(ctx)
	if err != nil {
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc.IsToolDisabled(name, req.ToolName) {
		writeErrorMsg(w, http.StatusForbidden, "This tool is disabled")
		return
	}

	var validator *schema.Validator
	if cachedRaw, ok := doc.CachedTools[name]; ok && len(cachedRaw) > 0 {
		var tools []mcpclient.ToolDescriptor
		if err := json.Unmarshal(cachedRaw, &tools); err == nil {
			found := false
			for _, t := range tools {
				if t.Name == req.ToolName {
					found = true
					if v, err := schema.Compile(t.InputSchema); err == nil {
						validator = v
					}
					break
				}
			}
			if !found {
				writeErrorMsg(w, http.StatusNotFound, "unknown tool")
				return
			}
		}
	}

	var arguments interface{}
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &arguments); err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "arguments must be valid JSON")
			return
		}
	}

	result, err := client.CallTool(ctx, req.ToolName, arguments, validator, nil)
	if err != nil {
		var mcpErr *mcperr.Error
		if mcperr.As(err, &mcpErr) {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"code": int(mcpErr.Code),
				"data": mcpErr.Data,
			})
			return
		}
		writeErrorMsg(w, http.StatusInternalServerError, err.Error())
		return
	}

	var data interface{}
	if len(result) > 0 {
		_ = json.Unmarshal(result, &data)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"toolName": req.ToolName,
			"status":   "executed",
			"data":     data,
		},
	})
}

// health reports a server's live connection state for UI polling.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	name := nameFromPath(r)
	client, ok := h.reg.Get(name)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"name": name, "state": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                      name,
		"state":                     client.State().String(),
		"negotiatedProtocolVersion": client.NegotiatedProtocolVersion(),
	})
}
