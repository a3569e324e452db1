package helpers

import (
	"os"

	"github.com/mattn/go-isatty"

	"github.com/compozy/notebook/pkg/config"
)

// OutputMode selects how command results are printed.
type OutputMode string

const (
	ModeJSON OutputMode = "json"
	ModeText OutputMode = "text"
)

const formatAuto = "auto"

var ciVars = []string{
	"CI",
	"GITHUB_ACTIONS",
	"GITLAB_CI",
	"CIRCLECI",
	"BUILDKITE",
	"JENKINS_URL",
	"TF_BUILD",
	"CODEBUILD_BUILD_ID",
}

func isRunningInCI() bool {
	for _, v := range ciVars {
		if os.Getenv(v) != "" {
			return true
		}
	}
	return false
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectMode resolves cfg.CLI.Format. "auto" prints styled text on an
// interactive terminal and JSON everywhere else.
func DetectMode(cfg *config.Config) OutputMode {
	format := formatAuto
	if cfg != nil && cfg.CLI.Format != "" {
		format = cfg.CLI.Format
	}
	switch OutputMode(format) {
	case ModeJSON:
		return ModeJSON
	case ModeText:
		return ModeText
	}
	if isRunningInCI() || !stdoutIsTerminal() {
		return ModeJSON
	}
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" {
		return ModeJSON
	}
	return ModeText
}

// ShouldUseColor reports whether styled output should carry ANSI colors.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" || isRunningInCI() {
		return false
	}
	return stdoutIsTerminal()
}

// IsInteractive reports whether both stdin and stdout are terminals, which
// is required for spinners and prompts.
func IsInteractive() bool {
	fd := os.Stdin.Fd()
	return stdoutIsTerminal() && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}
