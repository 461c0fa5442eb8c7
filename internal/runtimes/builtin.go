package runtimes

import "time"

// builtinProfiles are the providers supported out of the box. Users can
// override or extend them through the YAML profiles file.
func builtinProfiles() []Profile {
	return []Profile{
		{
			Provider:        "claude",
			Command:         "claude",
			PipeCommand:     "claude -p",
			InteractiveArgs: nil,
			ResumeArgs:      []string{"--continue"},
			ResumeFlag:      "--resume",
			ModelFlag:       ModelFlagStandard,
			Shape:           ShapePrintStdin,
			Warmup:          Duration(4 * time.Second),
			Aliases:         []string{"claude-code"},
			StatusKeywords:  []string{"esc to interrupt", "Thinking", "Pondering", "Wrangling"},
		},
		{
			Provider:        "gemini",
			Command:         "gemini",
			PipeCommand:     "gemini -p",
			InteractiveArgs: nil,
			ResumeArgs:      nil,
			ModelFlag:       ModelFlagShort,
			Shape:           ShapePrintStdin,
			Warmup:          Duration(4 * time.Second),
			Aliases:         []string{"gemini-cli"},
			StatusKeywords:  []string{"Thinking", "Generating"},
		},
		{
			Provider:        "codex",
			Command:         "codex",
			PipeCommand:     "codex exec",
			InteractiveArgs: nil,
			ResumeArgs:      []string{"resume", "--last"},
			ResumeFlag:      "resume",
			ModelFlag:       ModelFlagStandard,
			Shape:           ShapePositionalPrompt,
			Warmup:          Duration(3 * time.Second),
			Aliases:         []string{"openai-codex"},
			StatusKeywords:  []string{"Working", "Thinking"},
		},
		{
			Provider:        "opencode",
			Command:         "opencode",
			InteractiveArgs: nil,
			ModelFlag:       ModelFlagNone,
			Shape:           ShapeSubcommandChat,
			Warmup:          Duration(3 * time.Second),
			StatusKeywords:  []string{"Generating"},
		},
		{
			Provider:        "aider",
			Command:         "aider",
			PipeCommand:     "aider --message",
			InteractiveArgs: []string{"--no-auto-commits"},
			ModelFlag:       ModelFlagStandard,
			Shape:           ShapeMessageArg,
			Warmup:          Duration(5 * time.Second),
			StatusKeywords:  []string{"Thinking", "Applying edits"},
		},
	}
}
