package policy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// OverrideRequest is shown to the operator when a decision is UNKNOWN and the
// run allows manual override.
type OverrideRequest struct {
	Target string
	Action string
	Reason string
	Token  string
}

// OverrideResponse is what the operator typed.
type OverrideResponse struct {
	Input         string
	Justification string
}

// Prompter asks an operator to confirm an override.
type Prompter interface {
	Prompt(ctx context.Context, req OverrideRequest) (OverrideResponse, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req OverrideRequest) (OverrideResponse, error)

func (f PrompterFunc) Prompt(ctx context.Context, req OverrideRequest) (OverrideResponse, error) {
	return f(ctx, req)
}

// TerminalPrompter reads the confirmation token and a justification line from
// In and writes the prompt to Out.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminalPrompter creates a prompter over the given streams.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{In: in, Out: out, reader: bufio.NewReader(in)}
}

func (p *TerminalPrompter) Prompt(ctx context.Context, req OverrideRequest) (OverrideResponse, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	rule := strings.Repeat("=", 60)
	fmt.Fprintln(p.Out, rule)
	fmt.Fprintln(p.Out, "MANUAL OVERRIDE REQUIRED")
	fmt.Fprintln(p.Out, rule)
	fmt.Fprintf(p.Out, "Target: %s\n", req.Target)
	fmt.Fprintf(p.Out, "Action: %s\n", req.Action)
	fmt.Fprintf(p.Out, "Reason: %s\n\n", req.Reason)
	fmt.Fprintln(p.Out, "This target's scope could not be validated automatically.")
	fmt.Fprintf(p.Out, "Type '%s' to continue, or anything else to abort:\n> ", req.Token)

	input, err := p.readLine(ctx)
	if err != nil {
		return OverrideResponse{}, err
	}
	if input != req.Token {
		return OverrideResponse{Input: input}, nil
	}

	fmt.Fprint(p.Out, "Justification (who authorized this target?):\n> ")
	justification, err := p.readLine(ctx)
	if err != nil {
		return OverrideResponse{}, err
	}
	return OverrideResponse{Input: input, Justification: justification}, nil
}

// readLine returns one line without its line ending. Other whitespace is kept
// so the token comparison stays exact. A final line that ends at EOF without a
// newline is returned as is; EOF with nothing read is an error.
func (p *TerminalPrompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
