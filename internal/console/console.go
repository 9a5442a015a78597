// Package console is the interactive operator prompt of the coordinator.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/biolume-dev/biolume/internal/coordinator"
	"github.com/peterh/liner"
)

// Prompt is shown before every command.
const Prompt = "biolume> "

// Backend is the coordinator state the console reports on.
type Backend interface {
	Census() coordinator.Census
	Agents() []coordinator.AgentInfo
}

// Console dispatches operator commands.
type Console struct {
	backend Backend
	quit    func()
}

// New returns a console over backend. quit is called when the operator
// asks the coordinator to stop.
func New(backend Backend, quit func()) *Console {
	return &Console{backend: backend, quit: quit}
}

var commands = map[string]string{
	"status": "show routing counters",
	"agents": "list registered agents and when they were last heard from",
	"quit":   "tell every agent to quit and stop the coordinator",
	"help":   "show this help",
}

// Execute runs one command line, writing its output to w. It returns true
// once the console should exit.
func (c *Console) Execute(line string, w io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "status":
		fmt.Fprintln(w, c.backend.Census())
	case "agents":
		c.printAgents(w)
	case "quit", "exit":
		fmt.Fprintln(w, "shutting down")
		c.quit()
		return true
	case "help", "?":
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-7s %s\n", name, commands[name])
		}
	default:
		fmt.Fprintf(w, "unknown command %q, try help\n", fields[0])
	}
	return false
}

func (c *Console) printAgents(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADDRESS\tX\tY\tSTARTED\tLAST SEEN")
	for _, a := range c.backend.Agents() {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%g\t%s\t%s\n", a.ID, a.Addr, a.X, a.Y, ago(a.Started), ago(a.Seen))
	}
	_ = tw.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}

// Run reads commands from the terminal until quit, EOF, Ctrl-C or ctx is
// cancelled. EOF and Ctrl-C also trigger quit.
func (c *Console) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		var out []string
		for name := range commands {
			if strings.HasPrefix(name, prefix) {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	})

	for ctx.Err() == nil {
		input, err := line.Prompt(Prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				c.Execute("quit", os.Stdout)
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if c.Execute(input, os.Stdout) {
			return nil
		}
	}
	return nil
}
