package daemon

import (
	"context"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

func (h *Handlers) registerTemplates(d *rpc.Dispatcher) {
	h.register(d, rpc.MethodTemplateCreate, h.templateCreate)
	h.register(d, rpc.MethodTemplateUpdate, h.templateUpdate)
	h.register(d, rpc.MethodTemplateDelete, h.templateDelete)
	h.register(d, rpc.MethodTemplateList, h.templateList)
	h.register(d, rpc.MethodTemplateGet, h.templateGet)
	h.register(d, rpc.MethodTemplateGetByRole, h.templateGetByRole)
	h.register(d, rpc.MethodTemplateGetBuiltIn, h.templateGetBuiltIn)
}

type templateIDRequest struct {
	TemplateID string `json:"templateId"`
}

func (r *templateIDRequest) Validate() error {
	if r.TemplateID == "" {
		return apperrors.InvalidField("templateId", "must not be empty")
	}
	return nil
}

type templateCreateRequest struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

func (r *templateCreateRequest) Validate() error {
	if r.Name == "" {
		return apperrors.InvalidField("name", "must not be empty")
	}
	if r.Content == "" {
		return apperrors.InvalidField("content", "must not be empty")
	}
	return nil
}

type templateUpdateRequest struct {
	templateIDRequest
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

func (h *Handlers) templateCreate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req templateCreateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	t := &v1.Template{Name: req.Name, Role: req.Role, Content: req.Content}
	if err := h.store.SaveTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (h *Handlers) templateUpdate(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req templateUpdateRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	t, err := h.store.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if t.BuiltIn {
		return nil, apperrors.Precondition("built-in templates cannot be edited")
	}
	if req.Name != "" {
		t.Name = req.Name
	}
	if req.Role != "" {
		t.Role = req.Role
	}
	if req.Content != "" {
		t.Content = req.Content
	}
	if err := h.store.SaveTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (h *Handlers) templateDelete(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req templateIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	if err := h.store.DeleteTemplate(ctx, req.TemplateID); err != nil {
		return nil, err
	}
	return okAck, nil
}

func (h *Handlers) templateList(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	templates, err := h.store.ListTemplates(ctx, "")
	if err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []*v1.Template{}
	}
	return templates, nil
}

func (h *Handlers) templateGet(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req templateIDRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	return h.store.GetTemplate(ctx, req.TemplateID)
}

func (h *Handlers) templateGetByRole(ctx context.Context, msg *rpc.Message) (interface{}, error) {
	var req agentRoleRequest
	if err := parseReq(msg, &req); err != nil {
		return nil, err
	}
	templates, err := h.store.ListTemplates(ctx, req.Role)
	if err != nil {
		return nil, err
	}
	if templates == nil {
		templates = []*v1.Template{}
	}
	return templates, nil
}

func (h *Handlers) templateGetBuiltIn(ctx context.Context, _ *rpc.Message) (interface{}, error) {
	templates, err := h.store.ListTemplates(ctx, "")
	if err != nil {
		return nil, err
	}
	builtin := []*v1.Template{}
	for _, t := range templates {
		if t.BuiltIn {
			builtin = append(builtin, t)
		}
	}
	return builtin, nil
}
