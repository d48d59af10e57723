// Package prompt asks the operator yes/no questions.
//
// Every Confirmer reports whether a human is actually answering. Restore
// only lets an interactive confirmer override a failed integrity check, so
// AutoApprove and NonInteractive can never bypass corruption.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrNoTerminal is returned by NonInteractive.Confirm.
var ErrNoTerminal = errors.New("confirmation needs a terminal; pass --yes to proceed")

// Confirmer asks a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
	IsInteractive() bool
}

// Select picks a Confirmer for the process's standard streams. autoApprove
// wins over everything else.
func Select(in *os.File, out *os.File, autoApprove bool) Confirmer {
	switch {
	case autoApprove:
		return AutoApprove{}
	case isTerminal(in) && isTerminal(out):
		return Form{}
	case isTerminal(in):
		return NewLine(in, out)
	default:
		return NonInteractive{}
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Form renders a huh confirmation.
type Form struct{}

func (Form) Confirm(ctx context.Context, prompt string) (bool, error) {
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(prompt).
			Affirmative("Yes").
			Negative("No").
			Value(&ok),
	)).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (Form) IsInteractive() bool { return true }

// Line reads a y/N answer from a line-oriented reader.
type Line struct {
	r *bufio.Reader
	w io.Writer
}

// NewLine creates a line prompter.
func NewLine(r io.Reader, w io.Writer) *Line {
	return &Line{r: bufio.NewReader(r), w: w}
}

func (l *Line) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(l.w, "%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	answer, err := l.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (l *Line) IsInteractive() bool { return true }

// AutoApprove says yes without asking. It is what --yes selects.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string) (bool, error) { return true, nil }
func (AutoApprove) IsInteractive() bool                           { return false }

// NonInteractive refuses every question.
type NonInteractive struct{}

func (NonInteractive) Confirm(context.Context, string) (bool, error) { return false, ErrNoTerminal }
func (NonInteractive) IsInteractive() bool                           { return false }
