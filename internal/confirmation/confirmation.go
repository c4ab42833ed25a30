package confirmation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"golang.org/x/term"

	apperrors "kyc-backup/internal/errors"
)

// Affirmative is the only answer that approves a destructive operation
const Affirmative = "yes"

// Source supplies the operator's answer to a confirmation prompt
type Source interface {
	Answer(ctx context.Context, prompt string) (string, error)
}

// Gate guards destructive operations
type Gate struct {
	source Source
}

// NewGate creates a gate that asks source
func NewGate(source Source) *Gate {
	return &Gate{source: source}
}

// Confirm asks the source and reports whether the operation was approved.
// A denial is not an error.
func (g *Gate) Confirm(ctx context.Context, prompt string) (bool, error) {
	answer, err := g.source.Answer(ctx, prompt)
	if err != nil {
		return false, err
	}
	return IsAffirmative(answer), nil
}

// IsAffirmative reports whether answer is exactly "yes". Only the line
// terminator is stripped; surrounding spaces or other casing deny.
func IsAffirmative(answer string) bool {
	answer = strings.TrimSuffix(answer, "\n")
	answer = strings.TrimSuffix(answer, "\r")
	return answer == Affirmative
}

// Preset answers every prompt with a fixed value, for --yes and tests
type Preset struct {
	answer string
}

// NewPreset creates a source that always answers answer
func NewPreset(answer string) *Preset {
	return &Preset{answer: answer}
}

// Approve returns a source that always approves
func Approve() *Preset {
	return NewPreset(Affirmative)
}

func (p *Preset) Answer(ctx context.Context, prompt string) (string, error) {
	return p.answer, ctx.Err()
}

// Interactive reads one line from an operator
type Interactive struct {
	reader *bufio.Reader
	out    io.Writer
	colors bool
	notify bool
}

// NewInteractive reads answers from in and writes prompts to out
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	return &Interactive{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// NewTerminal prompts on stderr and reads stdin. Ctrl-C while waiting
// cancels the prompt instead of killing the process.
func NewTerminal() *Interactive {
	i := NewInteractive(os.Stdin, os.Stderr)
	i.colors = term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
	i.notify = true
	return i
}

// Answer prints prompt and waits for one line of input
func (i *Interactive) Answer(ctx context.Context, prompt string) (string, error) {
	question := fmt.Sprintf("%s Type '%s' to continue: ", prompt, Affirmative)
	if i.colors {
		question = color.New(color.FgYellow, color.Bold).Sprint(question)
	}
	fmt.Fprint(i.out, question)

	var interrupt chan os.Signal
	if i.notify {
		interrupt = make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupt)
	}

	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := i.reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		lines <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(i.out)
		return "", apperrors.NewAppError(apperrors.ErrorTypeInterruption, "confirmation cancelled", ctx.Err())
	case <-interrupt:
		fmt.Fprintln(i.out)
		return "", apperrors.NewAppError(apperrors.ErrorTypeInterruption, "confirmation interrupted", nil)
	case r := <-lines:
		if r.err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", r.err)
		}
		return r.line, nil
	}
}

// Plan describes a pending restore for the confirmation prompt
type Plan struct {
	Artifact     string
	Engine       string
	Target       string
	TargetExists bool
	TargetTables int
}

// Describe renders the warning shown before a destructive restore
func Describe(p Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Restore %s into %s database %q.\n", p.Artifact, p.Engine, p.Target)
	if p.TargetExists {
		fmt.Fprintf(&b, "The existing database %q (%d tables) will be DROPPED and replaced.\n", p.Target, p.TargetTables)
	} else {
		fmt.Fprintf(&b, "Database %q does not exist and will be created.\n", p.Target)
	}
	b.WriteString("This cannot be undone without another backup.")
	return b.String()
}
