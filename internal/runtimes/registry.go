package runtimes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/tmuxagents/tmuxagents/internal/common/errors"
)

// Registry resolves providers to their launch profiles.
type Registry struct {
	profiles        map[string]*Profile
	aliases         map[string]string
	defaultProvider string
	fallback        string
}

// Options configure the registry.
type Options struct {
	DefaultProvider string
	FallbackProvider string
	// ProfilesFile optionally points at a YAML file of profile overrides.
	ProfilesFile string
}

// profilesFile is the YAML shape of the overrides file.
type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// NewRegistry builds a registry from the builtin profiles plus any overrides
// from the profiles file. An override with an existing provider name replaces
// the builtin wholesale; a new name adds a provider.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{
		profiles:        make(map[string]*Profile),
		aliases:         make(map[string]string),
		defaultProvider: opts.DefaultProvider,
		fallback:        opts.FallbackProvider,
	}
	if r.defaultProvider == "" {
		r.defaultProvider = "claude"
	}
	for _, p := range builtinProfiles() {
		r.register(p)
	}
	if opts.ProfilesFile != "" {
		if err := r.loadOverrides(opts.ProfilesFile); err != nil {
			return nil, err
		}
	}
	if _, ok := r.profiles[r.defaultProvider]; !ok {
		return nil, apperrors.InvalidField("defaultProvider", fmt.Sprintf("unknown provider %q", r.defaultProvider))
	}
	return r, nil
}

func (r *Registry) register(p Profile) {
	if p.Warmup == 0 {
		p.Warmup = Duration(3 * time.Second)
	}
	cp := p
	r.profiles[p.Provider] = &cp
	r.aliases[p.Provider] = p.Provider
	r.aliases[filepath.Base(p.Command)] = p.Provider
	for _, a := range p.Aliases {
		r.aliases[a] = p.Provider
	}
}

func (r *Registry) loadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(err, "reading profiles file")
	}
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return apperrors.InvalidField("profilesFile", fmt.Sprintf("parsing %s: %v", path, err))
	}
	for _, p := range file.Profiles {
		if p.Provider == "" || p.Command == "" {
			return apperrors.InvalidField("profilesFile", "every profile needs provider and command")
		}
		r.register(p)
	}
	return nil
}

// Providers returns the known provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}

// Profile returns the profile for a provider name or alias.
func (r *Registry) Profile(provider string) (*Profile, error) {
	canonical, ok := r.aliases[provider]
	if !ok {
		return nil, apperrors.NotFound("provider", provider)
	}
	return r.profiles[canonical], nil
}

// ResolveProvider picks the effective provider. The explicit override wins
// over the lane preference, which wins over the global default. Unknown
// names fall through to the next candidate, then to the fallback provider.
func (r *Registry) ResolveProvider(override, lanePreference string) string {
	for _, candidate := range []string{override, lanePreference, r.defaultProvider, r.fallback} {
		if candidate == "" {
			continue
		}
		if canonical, ok := r.aliases[candidate]; ok {
			return canonical
		}
	}
	return r.defaultProvider
}

// modelAliases rewrites retired model names to their current equivalents,
// so lanes and tasks configured before a rename keep launching.
var modelAliases = map[string]string{
	"claude-3-opus":     "claude-opus-4-1",
	"claude-3-5-sonnet": "claude-sonnet-4-5",
	"claude-3-5-haiku":  "claude-haiku-4-5",
	"gemini-1.5-pro":    "gemini-2.5-pro",
	"gemini-1.5-flash":  "gemini-2.5-flash",
	"gpt-4-turbo":       "gpt-4.1",
	"gpt-4o-mini":       "gpt-4.1-mini",
	"o1":                "o3",
	"o1-mini":           "o4-mini",
}

// ResolveModel picks the effective model with the same precedence as
// ResolveProvider, then rewrites retired names. An empty result means the
// provider's own default.
func (r *Registry) ResolveModel(override, lanePreference string) string {
	model := lanePreference
	if override != "" {
		model = override
	}
	if current, ok := modelAliases[model]; ok {
		return current
	}
	return model
}

// InteractiveLaunch returns the shell command that starts the provider
// interactively inside a pane, never in one-shot/pipe mode.
func (r *Registry) InteractiveLaunch(provider, model string) (string, error) {
	p, err := r.Profile(provider)
	if err != nil {
		return "", err
	}
	return p.launchCommand(model), nil
}

// Resume returns the shell command that re-enters a previous conversation.
func (r *Registry) Resume(provider, sessionID string) (string, error) {
	p, err := r.Profile(provider)
	if err != nil {
		return "", err
	}
	return p.resumeCommand(sessionID), nil
}

// Warmup returns how long to wait after launching before sending the prompt.
func (r *Registry) Warmup(provider string) time.Duration {
	if p, err := r.Profile(provider); err == nil {
		return time.Duration(p.Warmup)
	}
	return 3 * time.Second
}

// Env returns the extra environment for a provider launch.
func (r *Registry) Env(provider string) map[string]string {
	if p, err := r.Profile(provider); err == nil {
		return p.Env
	}
	return nil
}

// DetectProvider matches a pane's current command line against the
// configured commands and aliases. Returns "" when nothing matches.
func (r *Registry) DetectProvider(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return ""
	}
	base := filepath.Base(fields[0])
	if canonical, ok := r.aliases[base]; ok {
		return canonical
	}
	// Wrappers like "node /usr/lib/claude/cli.js" hide the binary; fall
	// back to scanning the whole line for known names.
	for alias, canonical := range r.aliases {
		if strings.Contains(commandLine, alias) {
			return canonical
		}
	}
	return ""
}
