package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/linker"
	"github.com/wippyai/contract-vm/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveOptions struct {
	address  string
	sender   string
	gasLimit uint64
}

func newInteractiveCommand(global *globalOptions) *cobra.Command {
	var opts interactiveOptions
	cmd := &cobra.Command{
		Use:   "interactive FILE",
		Short: "Call a contract's entry points from a terminal console",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("interactive mode needs a terminal")
			}
			return runInteractive(cmd.Context(), global, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.address, "address", "a", "contract", "Address to deploy the contract at")
	flags.StringVar(&opts.sender, "sender", "", "Address of the top-level caller")
	flags.Uint64Var(&opts.gasLimit, "gas", 100_000_000, "Gas limit per call")
	return cmd
}

type interactiveModel struct {
	ctx      context.Context
	global   *globalOptions
	opts     interactiveOptions
	app      *app
	err      error
	filename string
	info     *engine.Info
	entries  []string
	points   []linker.CallablePoint
	input    textinput.Model
	result   *runtime.CallResult
	selected int
	state    modelState
}

type modelState int

const (
	stateSelectEntry modelState = iota
	stateInputMessage
	stateShowResult
)

func newInteractiveModel(ctx context.Context, global *globalOptions, opts interactiveOptions, filename string) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		global:   global,
		opts:     opts,
		filename: filename,
		state:    stateSelectEntry,
	}
}

type loadedMsg struct {
	err  error
	app  *app
	info *engine.Info
}

type callResultMsg struct {
	err    error
	result runtime.CallResult
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadContract
}

func (m *interactiveModel) loadContract() tea.Msg {
	a, err := newApp(m.ctx, m.global)
	if err != nil {
		return loadedMsg{err: err}
	}
	checksum, err := a.deploy(m.ctx, m.opts.address, m.filename)
	if err != nil {
		a.close(m.ctx)
		return loadedMsg{err: err}
	}
	info, err := a.rt.Info(m.ctx, checksum)
	if err != nil {
		a.close(m.ctx)
		return loadedMsg{err: err}
	}
	return loadedMsg{app: a, info: info}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()

		case "q":
			if m.state != stateInputMessage {
				return m, m.quit()
			}

		case "up", "k":
			if m.state == stateSelectEntry && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectEntry && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectEntry:
				if len(m.entries) == 0 {
					return m, nil
				}
				m.prepareInput()
				m.state = stateInputMessage
				return m, textinput.Blink

			case stateInputMessage:
				return m, m.callEntry

			case stateShowResult:
				m.state = stateSelectEntry
				m.result = nil
				m.err = nil
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateInputMessage, stateShowResult:
				m.state = stateSelectEntry
				m.result = nil
				m.err = nil
			}
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.app = msg.app
		m.info = msg.info
		m.entries = append([]string(nil), msg.info.Entries...)
		sort.Strings(m.entries)
		for _, p := range msg.info.CallablePoints {
			m.points = append(m.points, p)
		}
		sort.Slice(m.points, func(i, j int) bool { return m.points[i].Name < m.points[j].Name })

	case callResultMsg:
		m.result = &msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputMessage {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) quit() tea.Cmd {
	if m.app != nil {
		m.app.close(m.ctx)
		m.app = nil
	}
	return tea.Quit
}

func (m *interactiveModel) prepareInput() {
	ti := textinput.New()
	ti.Placeholder = "message"
	ti.Prompt = "msg: "
	ti.Width = 60
	ti.Focus()
	m.input = ti
}

func (m *interactiveModel) callEntry() tea.Msg {
	if m.app == nil {
		return callResultMsg{err: errors.New("contract not loaded")}
	}
	res, err := m.app.rt.Call(m.ctx, runtime.CallRequest{
		Address:  m.opts.address,
		Entry:    m.entries[m.selected],
		Args:     [][]byte{[]byte(m.input.Value())},
		Backend:  m.app.backend,
		GasLimit: m.opts.gasLimit,
		Sender:   m.opts.sender,
	})
	return callResultMsg{result: res, err: err}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.info == nil {
		return "Loading contract..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Contract Console"))
	b.WriteString(" ")
	b.WriteString(m.opts.address)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.filename))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectEntry:
		b.WriteString("Select an entry point:\n\n")
		for i, e := range m.entries {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + e))
			} else {
				b.WriteString("  " + funcStyle.Render(e))
			}
			b.WriteString("\n")
		}
		if len(m.points) > 0 {
			b.WriteString("\nCallable points:\n")
			for _, p := range m.points {
				b.WriteString("  " + m.formatPoint(p) + "\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render(m.statusLine()))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • q quit"))

	case stateInputMessage:
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(m.entries[m.selected])))
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateShowResult:
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(m.entries[m.selected])))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(printable(m.result.Data)))
		}
		if m.result != nil {
			b.WriteString("\n\n")
			b.WriteString(typeStyle.Render(fmt.Sprintf("gas used %d • gas left %d", m.result.GasUsed, m.result.GasLeft)))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatPoint(p linker.CallablePoint) string {
	mode := "rw"
	if p.ReadOnly {
		mode = "ro"
	}
	callers := "*"
	if len(p.AllowedCallers) > 0 {
		callers = strings.Join(p.AllowedCallers, ",")
	}
	return funcStyle.Render(p.Name) + " " + typeStyle.Render(p.Signature.String()) +
		helpStyle.Render(fmt.Sprintf(" [%s] callers=%s", mode, callers))
}

func (m *interactiveModel) statusLine() string {
	s := m.app.cacheStats()
	return fmt.Sprintf("interface v%d • %d instructions • cache %d entries, %d compilations",
		m.info.InterfaceVersion, m.info.Instructions, s.Entries+s.Pinned, s.Compilations)
}

func runInteractive(ctx context.Context, global *globalOptions, opts interactiveOptions, filename string) error {
	m := newInteractiveModel(ctx, global, opts, filename)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if m.app != nil {
		m.app.close(ctx)
	}
	return err
}
