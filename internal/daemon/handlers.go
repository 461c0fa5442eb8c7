// Package daemon registers the RPC surface of the orchestration daemon and
// supervises its background workers.
package daemon

import (
	"context"
	"time"

	"github.com/tmuxagents/tmuxagents/internal/common/config"
	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/common/logger"
	"github.com/tmuxagents/tmuxagents/internal/launcher"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	"github.com/tmuxagents/tmuxagents/internal/orchestrator"
	"github.com/tmuxagents/tmuxagents/internal/pipeline"
	"github.com/tmuxagents/tmuxagents/internal/runtimes"
	"github.com/tmuxagents/tmuxagents/internal/store"
	"github.com/tmuxagents/tmuxagents/pkg/rpc"
)

// Deps bundles the components the RPC handlers operate on.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Driver    mux.Driver
	Hosts     *runtimes.Hosts
	Registry  *runtimes.Registry
	Orch      *orchestrator.Orchestrator
	Launcher  *launcher.Launcher
	Pipelines *pipeline.Engine
	Version   string
	Log       *logger.Logger
}

// Handlers implements every daemon RPC method.
type Handlers struct {
	cfg       *config.Config
	store     *store.Store
	driver    mux.Driver
	hosts     *runtimes.Hosts
	registry  *runtimes.Registry
	orch      *orchestrator.Orchestrator
	launcher  *launcher.Launcher
	pipelines *pipeline.Engine
	version   string
	startedAt time.Time
	log       *logger.Logger
}

// NewHandlers wires the RPC handler set.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		cfg:       d.Config,
		store:     d.Store,
		driver:    d.Driver,
		hosts:     d.Hosts,
		registry:  d.Registry,
		orch:      d.Orch,
		launcher:  d.Launcher,
		pipelines: d.Pipelines,
		version:   d.Version,
		startedAt: time.Now(),
		log:       d.Log,
	}
}

// handlerFunc produces a result payload or an application error; the
// registration shim turns either into a wire message.
type handlerFunc func(ctx context.Context, msg *rpc.Message) (interface{}, error)

func (h *Handlers) register(d *rpc.Dispatcher, method string, fn handlerFunc) {
	d.RegisterFunc(method, func(ctx context.Context, msg *rpc.Message) (*rpc.Message, error) {
		result, err := fn(ctx, msg)
		if err != nil {
			return rpc.NewError(msg.ID, msg.Method, apperrors.CodeOf(err), apperrors.MessageOf(err), nil)
		}
		return rpc.NewResponse(msg.ID, msg.Method, result)
	})
}

// Register installs every method on the dispatcher.
func (h *Handlers) Register(d *rpc.Dispatcher) {
	h.registerMux(d)
	h.registerAgents(d)
	h.registerTeams(d)
	h.registerPipelines(d)
	h.registerTemplates(d)
	h.registerTasks(d)
	h.registerKanban(d)

	h.register(d, rpc.MethodDashboardGetState, h.dashboardGetState)
	h.register(d, rpc.MethodDashboardAddFavorite, h.dashboardAddFavorite)
	h.register(d, rpc.MethodDashboardRemoveFavorite, h.dashboardRemoveFavorite)
	h.register(d, rpc.MethodHealthGet, h.healthGet)
}

type validator interface {
	Validate() error
}

func parseReq(msg *rpc.Message, req validator) error {
	if err := msg.ParsePayload(req); err != nil {
		return apperrors.InvalidParam("malformed payload: " + err.Error())
	}
	return req.Validate()
}

// ack is the result payload of methods with no natural return value.
type ack struct {
	OK bool `json:"ok"`
}

var okAck = ack{OK: true}
