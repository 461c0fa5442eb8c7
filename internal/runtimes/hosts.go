package runtimes

import (
	"context"

	"github.com/tmuxagents/tmuxagents/internal/common/config"
	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
	"github.com/tmuxagents/tmuxagents/internal/mux"
	v1 "github.com/tmuxagents/tmuxagents/pkg/api/v1"
)

// Hosts is the fixed catalog of reachable runtimes, built from configuration
// at startup: the local host plus any enabled SSH entries.
type Hosts struct {
	order    []string
	runtimes map[string]*v1.Runtime
}

// NewHosts builds the catalog. Disabled SSH entries are skipped.
func NewHosts(sshRuntimes []config.SSHRuntimeConfig) *Hosts {
	h := &Hosts{runtimes: make(map[string]*v1.Runtime)}
	h.add(&v1.Runtime{ID: v1.LocalRuntimeID, Kind: v1.RuntimeLocalMux, Label: "Local"})
	for _, rc := range sshRuntimes {
		if !rc.Enabled {
			continue
		}
		label := rc.Label
		if label == "" {
			label = rc.Host
		}
		h.add(&v1.Runtime{
			ID:    rc.ID,
			Kind:  v1.RuntimeSSHMux,
			Label: label,
			SSH: &v1.SSHConfig{
				Host:         rc.Host,
				Port:         rc.Port,
				User:         rc.User,
				IdentityFile: rc.IdentityFile,
				ConfigFile:   rc.ConfigFile,
			},
		})
	}
	return h
}

func (h *Hosts) add(rt *v1.Runtime) {
	h.order = append(h.order, rt.ID)
	h.runtimes[rt.ID] = rt
}

// List returns all runtimes in configuration order, local first.
func (h *Hosts) List() []*v1.Runtime {
	out := make([]*v1.Runtime, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.runtimes[id])
	}
	return out
}

// Get returns the runtime with the given id.
func (h *Hosts) Get(id string) (*v1.Runtime, error) {
	if rt, ok := h.runtimes[id]; ok {
		return rt, nil
	}
	return nil, apperrors.NotFound("runtime", id)
}

// Mux returns the runtime as a MuxDriver target.
func (h *Hosts) Mux(id string) (mux.Runtime, error) {
	rt, err := h.Get(id)
	if err != nil {
		return nil, err
	}
	return HostRuntime{rt}, nil
}

// TestConnection checks reachability by listing sessions. The returned
// health carries a classified reason on failure.
func (h *Hosts) TestConnection(ctx context.Context, driver mux.Driver, id string) v1.RuntimeHealth {
	health := v1.RuntimeHealth{ID: id}
	target, err := h.Mux(id)
	if err != nil {
		health.Reason = apperrors.MessageOf(err)
		return health
	}
	if _, err := driver.ListSessions(ctx, target); err != nil {
		health.Reason = apperrors.MessageOf(err)
		return health
	}
	health.OK = true
	return health
}

// HostRuntime adapts a v1.Runtime to the MuxDriver target interface.
type HostRuntime struct {
	R *v1.Runtime
}

func (h HostRuntime) RuntimeID() string { return h.R.ID }

func (h HostRuntime) IsLocal() bool { return h.R.Kind == v1.RuntimeLocalMux }

func (h HostRuntime) SSHTarget() (host string, port int, user, identityFile, configFile string) {
	if h.R.SSH == nil {
		return "", 0, "", "", ""
	}
	return h.R.SSH.Host, h.R.SSH.Port, h.R.SSH.User, h.R.SSH.IdentityFile, h.R.SSH.ConfigFile
}
