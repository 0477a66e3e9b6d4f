package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/jitlink/ir"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nsStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#87CEEB"))

	sourceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// evaluator is satisfied by the local evaluator and the remote executor.
type evaluator interface {
	Eval(ctx context.Context, src string) (int64, error)
	Namespace() string
}

const replScrollback = 20

type replEntry struct {
	err    error
	ns     string
	src    string
	result int64
}

type replModel struct {
	ctx     context.Context
	ev      evaluator
	title   string
	entries []replEntry
	sources []string
	input   textinput.Model
	recall  int
	busy    bool
}

type evalResultMsg struct {
	entry replEntry
}

func newReplModel(ctx context.Context, ev evaluator, title string) *replModel {
	ti := textinput.New()
	ti.Placeholder = "(+ 1 2)"
	ti.Width = 60
	ti.Focus()
	m := &replModel{ctx: ctx, ev: ev, title: title, input: ti}
	m.input.Prompt = m.prompt()
	return m
}

func (m *replModel) prompt() string {
	return nsStyle.Render(m.ev.Namespace()) + "=> "
}

func (m *replModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *replModel) eval(src string) tea.Cmd {
	ns := m.ev.Namespace()
	return func() tea.Msg {
		v, err := m.ev.Eval(m.ctx, src)
		return evalResultMsg{entry: replEntry{err: err, ns: ns, src: src, result: v}}
	}
}

func (m *replModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit

		case "enter":
			src := strings.TrimSpace(m.input.Value())
			if src == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.sources = append(m.sources, src)
			m.recall = len(m.sources)
			m.input.SetValue("")
			return m, m.eval(src)

		case "up":
			if m.recall > 0 {
				m.recall--
				m.input.SetValue(m.sources[m.recall])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.recall < len(m.sources)-1 {
				m.recall++
				m.input.SetValue(m.sources[m.recall])
				m.input.CursorEnd()
			} else {
				m.recall = len(m.sources)
				m.input.SetValue("")
			}
			return m, nil
		}

	case evalResultMsg:
		m.busy = false
		m.entries = append(m.entries, msg.entry)
		if len(m.entries) > replScrollback {
			m.entries = m.entries[len(m.entries)-replScrollback:]
		}
		m.input.Prompt = m.prompt()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *replModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("jitlink"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	for _, e := range m.entries {
		b.WriteString(nsStyle.Render(e.ns))
		b.WriteString("=> ")
		b.WriteString(sourceStyle.Render(e.src))
		b.WriteString("\n")
		if e.err != nil {
			b.WriteString(errorStyle.Render(e.err.Error()))
		} else {
			b.WriteString(resultStyle.Render(fmt.Sprint(e.result)))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	if m.busy {
		b.WriteString(helpStyle.Render("  compiling..."))
	}
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter eval • ↑/↓ history • ctrl+d quit"))
	return b.String()
}

// repl runs an interactive session, or a line-oriented one when stdin is
// not a terminal.
func (c *cli) repl(ctx context.Context, ev evaluator, title string) error {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p := tea.NewProgram(newReplModel(ctx, ev, title), tea.WithContext(ctx))
		_, err := p.Run()
		return err
	}
	return lineRepl(ctx, ev, c.stdin, c.stdout)
}

func lineRepl(ctx context.Context, ev evaluator, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		src := strings.TrimSpace(sc.Text())
		if src == "" {
			continue
		}
		v, err := ev.Eval(ctx, src)
		if err != nil {
			fmt.Fprintf(out, "%s=> error: %v\n", ev.Namespace(), err)
			continue
		}
		fmt.Fprintf(out, "%s=> %d\n", ev.Namespace(), v)
	}
	return sc.Err()
}

func (c *cli) newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sys, err := c.system(ctx)
			if err != nil {
				return err
			}
			defer sys.Close(ctx)

			ev, err := sys.Evaluator(ir.Host())
			if err != nil {
				return err
			}
			return c.repl(ctx, ev, "local")
		},
	}
}
