package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

// PromptQuestion asks for a question interactively. It is only used when
// stdin is a terminal.
func PromptQuestion(ctx context.Context) (string, error) {
	var question string
	form := huh.NewForm(huh.NewGroup(
		huh.NewText().
			Title("Ask your documents").
			Placeholder("What is the refund window?").
			CharLimit(2000).
			Validate(validateQuestion).
			Value(&question),
	))
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", ErrInterrupted
		}
		return "", err
	}
	return strings.TrimSpace(question), nil
}

func validateQuestion(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("question must not be empty")
	}
	return nil
}
