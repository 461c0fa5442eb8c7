// Package runtimes catalogs how each supported AI CLI is spawned, resumed
// and observed inside multiplexer panes.
package runtimes

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// SpawnShape classifies how a provider accepts a one-shot prompt. Profiles
// are a closed variant over these shapes rather than per-provider branching.
type SpawnShape string

const (
	// ShapePrintStdin pipes the prompt to stdin with a print flag.
	ShapePrintStdin SpawnShape = "printStdin"
	// ShapeMessageArg passes the prompt as a flag argument.
	ShapeMessageArg SpawnShape = "messageArg"
	// ShapeSubcommandChat starts an explicit chat subcommand.
	ShapeSubcommandChat SpawnShape = "subcommandChat"
	// ShapePositionalPrompt passes the prompt as a positional argument.
	ShapePositionalPrompt SpawnShape = "positionalPrompt"
)

// ModelFlagStrategy says how a model name is attached to the launch command.
type ModelFlagStrategy string

const (
	ModelFlagStandard   ModelFlagStrategy = "standard"   // --model X
	ModelFlagShort      ModelFlagStrategy = "short"      // -m X
	ModelFlagPositional ModelFlagStrategy = "positional" // X as trailing arg
	ModelFlagNone       ModelFlagStrategy = "none"       // configured out-of-band
)

// Profile describes one provider's launch behaviour.
type Profile struct {
	Provider        string            `yaml:"provider"`
	Command         string            `yaml:"command"`
	PipeCommand     string            `yaml:"pipeCommand"`
	InteractiveArgs []string          `yaml:"interactiveArgs"`
	ResumeArgs      []string          `yaml:"resumeArgs"`
	ResumeFlag      string            `yaml:"resumeFlag"`
	Env             map[string]string `yaml:"env"`
	DefaultCWD      string            `yaml:"defaultWorkingDirectory"`
	ModelFlag       ModelFlagStrategy `yaml:"modelFlagStrategy"`
	Shape           SpawnShape        `yaml:"shape"`
	Warmup          Duration          `yaml:"warmup"`
	Aliases         []string          `yaml:"aliases"`

	// Spinner keywords specific to this provider, merged with the
	// shared set during status detection.
	StatusKeywords []string `yaml:"statusKeywords"`
}

// stripPipeFlags removes one-shot/pipe flags so the resulting command always
// starts an interactive session.
var pipeFlags = map[string]bool{
	"-p": true, "--print": true, "--no-interactive": true, "--message": true, "-m_msg": true,
}

func stripPipeFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if pipeFlags[a] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// launchCommand renders the full interactive command line with optional model.
func (p *Profile) launchCommand(model string) string {
	parts := []string{p.Command}
	parts = append(parts, stripPipeFlags(p.InteractiveArgs)...)
	if model != "" {
		switch p.ModelFlag {
		case ModelFlagStandard:
			parts = append(parts, "--model", model)
		case ModelFlagShort:
			parts = append(parts, "-m", model)
		case ModelFlagPositional:
			parts = append(parts, model)
		case ModelFlagNone:
		}
	}
	return strings.Join(parts, " ")
}

// resumeCommand renders the command to re-enter a prior conversation.
// A known session id plus a resume flag targets that session; otherwise the
// provider's generic continue form is used.
func (p *Profile) resumeCommand(sessionID string) string {
	parts := []string{p.Command}
	if sessionID != "" && p.ResumeFlag != "" {
		parts = append(parts, p.ResumeFlag, sessionID)
	} else {
		parts = append(parts, p.ResumeArgs...)
	}
	return strings.Join(parts, " ")
}
