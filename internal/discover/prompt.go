package discover

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sigint-sh/sigint/pkg/plugins"
)

// Verdict is the operator's decision for one reviewed query.
type Verdict int

const (
	VerdictApprove Verdict = iota
	VerdictDeny
	VerdictModify
	VerdictRunAll
	VerdictSkipAll
)

// OperatorPrompt supplies the human-in-the-loop decisions the engine needs.
// The terminal I/O behind it is swappable so batch runs and tests can answer
// without a console.
type OperatorPrompt interface {
	// ReviewQuery presents one query and returns the verdict. For
	// VerdictModify the second return value is the replacement value.
	ReviewQuery(index, total int, q plugins.DiscoveryQuery) (Verdict, string)
	// ContinueOnError asks whether to keep executing after a query failed.
	ContinueOnError(errMsg string) bool
}

// TerminalPrompt reads operator decisions from an input stream.
type TerminalPrompt struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompt wires a prompt to the given streams.
func NewTerminalPrompt(in io.Reader, out io.Writer) *TerminalPrompt {
	return &TerminalPrompt{in: bufio.NewReader(in), out: out}
}

func (p *TerminalPrompt) ReviewQuery(index, total int, q plugins.DiscoveryQuery) (Verdict, string) {
	fmt.Fprintf(p.out, "\n[Query %d/%d]\n", index, total)
	fmt.Fprintf(p.out, "  Type:   %s\n", q.QueryType)
	fmt.Fprintf(p.out, "  Source: %s\n", q.Metadata["source"])
	fmt.Fprintf(p.out, "  Value:  %s\n", q.Value)

	for {
		fmt.Fprint(p.out, "\n  [A]pprove / [D]eny / [M]odify / [R]un all / [S]kip all: ")
		line, err := p.in.ReadString('\n')
		if err != nil {
			// EOF or interrupt: skip everything remaining.
			fmt.Fprintln(p.out, "\n  Query review cancelled")
			return VerdictSkipAll, ""
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "a":
			return VerdictApprove, ""
		case "d":
			return VerdictDeny, ""
		case "m":
			fmt.Fprintf(p.out, "  Current value: %s\n", q.Value)
			fmt.Fprint(p.out, "  Enter new value (or press Enter to keep current): ")
			newValue, err := p.in.ReadString('\n')
			if err != nil {
				return VerdictSkipAll, ""
			}
			newValue = strings.TrimSpace(newValue)
			if newValue == "" {
				return VerdictApprove, ""
			}
			return VerdictModify, newValue
		case "r":
			return VerdictRunAll, ""
		case "s":
			return VerdictSkipAll, ""
		default:
			fmt.Fprintln(p.out, "  Invalid option. Please enter A, D, M, R, or S.")
		}
	}
}

func (p *TerminalPrompt) ContinueOnError(errMsg string) bool {
	fmt.Fprintf(p.out, "\n[?] Query error occurred: %s\n", errMsg)
	fmt.Fprint(p.out, "Continue with remaining queries? [y/N]: ")
	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// BatchPrompt is the non-interactive policy: approve everything, abort on
// the first error.
type BatchPrompt struct{}

func (BatchPrompt) ReviewQuery(int, int, plugins.DiscoveryQuery) (Verdict, string) {
	return VerdictApprove, ""
}

func (BatchPrompt) ContinueOnError(string) bool { return false }
