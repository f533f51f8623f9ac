// Package ui is the terminal presentation layer of the chat client: a
// scrolling transcript above a single-line input.
package ui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Tyrowin/relaychat/internal/client"
)

const (
	charLimit   = 280
	inputHeight = 3
	placeholder = "Write your message here."
)

// Sender is the part of the client session the UI drives.
type Sender interface {
	Send(text string) bool
}

type lineMsg string

type model struct {
	sender Sender

	viewport viewport.Model
	textarea textarea.Model

	serverStyle   lipgloss.Style
	senderStyle   lipgloss.Style
	receiverStyle lipgloss.Style
	messages      []string
}

// Run starts the session as name and blocks until the user quits, then
// leaves the chat.
func Run(c *client.Client, name string) error {
	width, height := terminalSize()
	p := tea.NewProgram(newModel(c, width, height))

	if err := c.Start(name, Transcript(p)); err != nil {
		return err
	}
	_, runErr := p.Run()
	return errors.Join(runErr, c.Leave())
}

// Transcript forwards received text into the running program.
func Transcript(p *tea.Program) client.Transcript {
	return client.TranscriptFunc(func(line string) {
		p.Send(lineMsg(line))
	})
}

func terminalSize() (int, int) {
	width, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

func newModel(sender Sender, width, height int) model {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.Focus()

	ta.Prompt = "┃ "
	ta.CharLimit = charLimit
	ta.SetWidth(width)
	ta.SetHeight(inputHeight)

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(false)

	vp := viewport.New(width, viewportHeight(height))
	vp.SetContent("Welcome! Getting ready to send and receive messages...")

	return model{
		sender:        sender,
		viewport:      vp,
		textarea:      ta,
		serverStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		senderStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		receiverStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		messages:      []string{},
	}
}

func viewportHeight(height int) int {
	return max(height-inputHeight-2, 1)
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight(msg.Height)
		m.textarea.SetWidth(msg.Width)
		m.viewport.SetContent(strings.Join(m.messages, "\n"))
		m.viewport.GotoBottom()
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				break
			}
			if m.sender.Send(text) {
				m.show(m.senderStyle.Render("You: ") + text)
			} else {
				m.show(m.serverStyle.Render("Not connected, message dropped."))
			}
			m.textarea.Reset()
		}
	case lineMsg:
		m.show(m.render(string(msg)))
	}
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m model) render(line string) string {
	switch {
	case line == client.ConnectionLostNotice:
		return m.serverStyle.Render(line)
	case strings.HasPrefix(line, "Server: "):
		return m.serverStyle.Render("Server: ") + strings.TrimPrefix(line, "Server: ")
	}
	if name, text, ok := strings.Cut(line, ": "); ok {
		return m.receiverStyle.Render(name+": ") + text
	}
	return line
}

func (m model) View() string {
	return fmt.Sprintf(
		"%s\n\n%s",
		m.viewport.View(),
		m.textarea.View(),
	)
}

func (m *model) show(line string) {
	m.messages = append(m.messages, line)
	m.viewport.SetContent(strings.Join(m.messages, "\n"))
	m.viewport.GotoBottom()
}
