package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxScrollback is the number of rendered lines kept in the viewport
const maxScrollback = 2000

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	sepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	nameStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type chatLineMsg struct {
	at         time.Time
	name, text string
}

type noticeMsg struct {
	at   time.Time
	text string
}

// ChatUI is a full-screen chat window. Display calls may come from any
// goroutine; typed lines are delivered on Lines.
type ChatUI struct {
	program *tea.Program
	lines   chan string
	done    chan struct{}
}

// NewChatUI creates the window. Run must be called to show it.
func NewChatUI(title string) *ChatUI {
	ui := &ChatUI{
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	ui.program = tea.NewProgram(newChatModel(title, ui.submit), tea.WithAltScreen())
	return ui
}

// Run shows the window until the user quits or Quit is called
func (ui *ChatUI) Run() error {
	defer close(ui.done)
	_, err := ui.program.Run()
	return err
}

// Quit closes the window
func (ui *ChatUI) Quit() {
	ui.program.Quit()
}

// Lines returns the lines typed by the user. It is never closed; watch
// for the window exiting instead.
func (ui *ChatUI) Lines() <-chan string {
	return ui.lines
}

// Chat shows a message attributed to name
func (ui *ChatUI) Chat(name, text string) {
	ui.program.Send(chatLineMsg{at: time.Now(), name: name, text: text})
}

// Notice shows a local status line
func (ui *ChatUI) Notice(text string) {
	ui.program.Send(noticeMsg{at: time.Now(), text: text})
}

func (ui *ChatUI) submit(line string) tea.Cmd {
	return func() tea.Msg {
		select {
		case ui.lines <- line:
		case <-ui.done:
		}
		return nil
	}
}

// --- Model ---

type chatModel struct {
	title    string
	viewport viewport.Model
	input    textinput.Model
	rendered []string
	submit   func(string) tea.Cmd
	width    int
	ready    bool
}

func newChatModel(title string, submit func(string) tea.Cmd) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Focus()

	return chatModel{
		title:  title,
		input:  ti,
		submit: submit,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		headerHeight := 2
		footerHeight := 3
		height := msg.Height - headerHeight - footerHeight
		if height < 1 {
			height = 1
		}
		m.viewport = viewport.New(msg.Width, height)
		m.viewport.SetContent(strings.Join(m.rendered, "\n"))
		m.viewport.GotoBottom()
		m.input.Width = msg.Width - 3
		m.ready = true
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(line) == "" {
				return m, nil
			}
			return m, m.submit(line)
		case tea.KeyPgUp:
			m.viewport.HalfViewUp()
			return m, nil
		case tea.KeyPgDown:
			m.viewport.HalfViewDown()
			return m, nil
		}

	case chatLineMsg:
		m.appendLine(timeStyle.Render(msg.at.Format("15:04")) + " " +
			nameStyle.Render(msg.name) + ": " + msg.text)
		return m, nil

	case noticeMsg:
		for _, line := range strings.Split(msg.text, "\n") {
			m.appendLine(timeStyle.Render(msg.at.Format("15:04")) + " " + noticeStyle.Render(line))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) appendLine(line string) {
	m.rendered = append(m.rendered, line)
	if len(m.rendered) > maxScrollback {
		m.rendered = m.rendered[len(m.rendered)-maxScrollback:]
	}
	if m.ready {
		atBottom := m.viewport.AtBottom()
		m.viewport.SetContent(strings.Join(m.rendered, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
	}
}

func (m chatModel) View() string {
	if !m.ready {
		return "Connecting..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(sepStyle.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("[Enter] Send  [PgUp/PgDn] Scroll  [Esc] Quit"))
	return b.String()
}
