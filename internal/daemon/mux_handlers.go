package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerMux(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodRuntimeList, h.runtimeList)
	h.register(d, rpc.MethodRuntimeTestConnection, h.runtimeTestConnection)

	h.register(d, rpc.MethodSessionCreate, h.sessionCreate)
	h.register(d, rpc.MethodSessionDelete, h.sessionDelete)
	h.register(d, rpc.MethodSessionRename, h.sessionRename)
	h.register(d, rpc.MethodSessionList, h.sessionList)

	h.register(d, rpc.MethodWindowCreate, h.windowCreate)
	h.register(d, rpc.MethodWindowKill, h.windowKill)
	h.register(d, rpc.MethodWindowSelect, h.windowSelect)
	h.register(d, rpc.MethodWindowRename, h.windowRename)

	h.register(d, rpc.MethodPaneSplit, h.paneSplit)
	h.register(d, rpc.MethodPaneKill, h.paneKill)
	h.register(d, rpc.MethodPaneSelect, h.paneSelect)
	h.register(d, rpc.MethodPaneSendKeys, h.paneSendKeys)
	h.register(d, rpc.MethodPaneCapture, h.paneCapture)
}

type runtimeRequest struct {
	RuntimeID string `json:"runtimeId"`
}

func (r *runtimeRequest) Validate() error {
	if r.RuntimeID == "" {
		return apperrors.InvalidField("runtimeId", "must not be empty")
	}
	return nil
}

type sessionRequest struct {
	RuntimeID string `json:"runtimeId"`
	Session   string `json:"session"`
}

func (r *sessionRequest) Validate() error {
	if r.RuntimeID == "" {
		return apperrors.InvalidField("runtimeId", "must not be empty")
	}
	if r.Session == "" {
		return apperrors.InvalidField("session", "must not be empty")
	}
	return nil
}

type sessionCreateRequest struct {
	sessionRequest
	CWD        string `json:"cwd,omitempty"`
	WindowName string `json:"windowName,omitempty"`
}

type sessionRenameRequest struct {
	sessionRequest
	NewName string `json:"newName"`
}

func (r *sessionRenameRequest) Validate() error {
	if err := r.sessionRequest.Validate(); err != nil {
		return err
	}
	if r.NewName == "" {
		return apperrors.InvalidField("newName", "must not be empty")
	}
	return nil
}

type windowRequest struct {
	sessionRequest
	Window int `json:"window"`
}

type windowCreateRequest struct {
	sessionRequest
	Name string `json:"name,omitempty"`
	CWD  string `json:"cwd,omitempty"`
}

type windowRenameRequest struct {
	windowRequest
	Name string `json:"name"`
}

func (r *windowRenameRequest) Validate() error {
	if err := r.windowRequest.Validate(); err != nil {
		return err
	}
	if r.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	return nil
}

type paneRequest struct {
	windowRequest
	Pane int `json:"pane"`
}

type paneSplitRequest struct {
	windowRequest
	Vertical bool `json:"vertical,omitempty"`
}

type paneSendKeysRequest struct {
	paneRequest
	Text  string `json:"text"`
	Enter bool   `json:"enter,omitempty"`
}

type paneCaptureRequest struct {
	paneRequest
	Lines int `json:"lines,omitempty"`
}

func (h *Handlers) runtimeList(_ context.Context, _ *rpc.Message) (interface{}, error) {
	return h.hosts.List(), nil
}

func (h *Handlers) runtimeTestConnection(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runtimeRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if _, err := h.hosts.Get(req.RuntimeID); err != nil {
		return nil, err
	}
	return h.hosts.TestConnection(ctx, h.driver, req.RuntimeID), nil
}

func (h *Handlers) sessionCreate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req sessionCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.NewSession(ctx, rt, req.Session, mux.NewSessionOptions{
		CWD:               req.CWD,
		InitialWindowName: req.WindowName,
	}); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) sessionDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req sessionRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.KillSession(ctx, rt, req.Session); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) sessionRename(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req sessionRenameRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.RenameSession(ctx, rt, req.Session, req.NewName); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) sessionList(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req runtimeRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	tree, err := h.driver.GetTree(ctx, rt)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		tree = []mux.Session{}
	}
	return tree, nil
}

func (h *Handlers) windowCreate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req windowCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	idx, err := h.driver.NewWindow(ctx, rt, req.Session, mux.NewWindowOptions{Name: req.Name, CWD: req.CWD})
	if err != nil {
		return nil, err
	}
	return map[string]int{"window": idx}, nil
}

func (h *Handlers) windowKill(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req windowRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.KillWindow(ctx, rt, req.Session, req.Window); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) windowSelect(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req windowRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.SelectWindow(ctx, rt, req.Session, req.Window); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) windowRename(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req windowRenameRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.RenameWindow(ctx, rt, req.Session, req.Window, req.Name); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) paneSplit(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req paneSplitRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.SplitPane(ctx, rt, req.Session, req.Window, req.Vertical); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) paneKill(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req paneRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.KillPane(ctx, rt, req.Session, req.Window, req.Pane); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) paneSelect(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req paneRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.SelectPane(ctx, rt, req.Session, req.Window, req.Pane); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) paneSendKeys(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req paneSendKeysRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	if err := h.driver.SendKeys(ctx, rt, req.Session, req.Window, req.Pane, req.Text, req.Enter); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) paneCapture(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req paneCaptureRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	rt, err := h.hosts.Mux(req.RuntimeID)
	if err != nil {
		return nil, err
	}
	lines := req.Lines
	if lines <= 0 {
		lines = 200
	}
	out, err := h.driver.Capture(ctx, rt, req.Session, req.Window, req.Pane, lines)
	if err != nil {
		return nil, err
	}
	return map[string]string{"output": out}, nil
}
