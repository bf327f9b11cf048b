package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirmer answers yes/no questions at the pipeline's decision points.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

// Static answers every question the same way.
type Static struct {
	Answer bool
}

// Confirm returns s.Answer.
func (s Static) Confirm(ctx context.Context, _ string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Answer, nil
}

// Prompt asks questions on a terminal.
type Prompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompt reads answers from in and writes questions to out.
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// Present prints the explanation of run so the questions that follow can be
// answered with it in view.
func (p *Prompt) Present(ctx context.Context, run *EvidenceRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(p.out, "\n%s\n%s\n", Heading(run), run.Explanation.Content); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}
	if u := run.Explanation.TokenUsage; u != nil {
		_, _ = fmt.Fprintf(p.out, "(%d tokens, %s)\n", u.TotalTokens, u.Model)
	}
	_, err := fmt.Fprintln(p.out)
	return err
}

// Heading names the log and ticket an explanation belongs to.
func Heading(run *EvidenceRun) string {
	src := "generated"
	if run.CacheHit {
		src = "cached"
	}
	return fmt.Sprintf("== %s (%s, %s explanation) ==", run.LogPath, run.TicketKey, src)
}

// Confirm writes question and reads one line. y, yes, s and sim (any case)
// mean yes; anything else, including end of input, means no.
func (p *Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(p.out, "%s (y/n): ", question); err != nil {
		return false, fmt.Errorf("prompt: %w", err)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("prompt: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "s", "sim":
		return true, nil
	}
	return false, nil
}
