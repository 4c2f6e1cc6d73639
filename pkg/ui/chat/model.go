package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"echobot/pkg/emulator"
)

type mode int

const (
	modeInteractive mode = iota
	modeOneShot
)

const wheelLines = 3

type role string

const (
	roleUser   role = "user"
	roleBot    role = "bot"
	roleNotice role = "notice"
	roleError  role = "error"
)

type chatMessage struct {
	role    role
	content string
	status  int
}

type exchangeMsg struct {
	exchange emulator.Exchange
	err      error
}

type bootTickMsg struct{}

type model struct {
	ctx          context.Context
	promptFn     PromptFunc
	mode         mode
	oneShotInput string

	theme      theme
	spinner    spinner.Model
	input      textinput.Model
	viewport   viewport.Model
	messages   []chatMessage
	width      int
	height     int
	isReady    bool
	isLoading  bool
	lastErr    string
	lastStatus int
	booting    bool
	bootStep   int
	followLog  bool
	runtime    RuntimeInfo
}

func newModel(ctx context.Context, promptFn PromptFunc, runMode mode, prompt string, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something to the bot..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:          ctx,
		promptFn:     promptFn,
		mode:         runMode,
		oneShotInput: strings.TrimSpace(prompt),
		theme:        defaultTheme(),
		spinner:      spin,
		input:        in,
		viewport:     vp,
		width:        100,
		height:       28,
		booting:      runMode == modeInteractive,
		followLog:    true,
		runtime:      info,
	}
}

func (m *model) Init() tea.Cmd {
	if m.mode == modeOneShot && m.oneShotInput != "" {
		m.messages = append(m.messages, chatMessage{role: roleUser, content: m.oneShotInput})
		m.isLoading = true
		m.refreshViewport(false)
		return tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.promptFn, m.oneShotInput))
	}

	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.mode == modeInteractive && !m.booting {
			m.handleViewportMouse(typed)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		if m.booting || m.mode == modeOneShot {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			return m.submit()
		}
	}

	if m.mode == modeInteractive {
		m.input, cmd = m.input.Update(msg)
	}

	switch typed := msg.(type) {
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case exchangeMsg:
		m.isLoading = false
		m.record(typed.exchange, typed.err)
		m.refreshViewport(false)
		if m.mode == modeOneShot {
			return m, tea.Quit
		}
	}

	return m, cmd
}

func (m *model) submit() (tea.Model, tea.Cmd) {
	if m.isLoading {
		return m, nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if isExitCommand(text) {
		return m, tea.Quit
	}

	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: roleUser, content: text})
	m.input.SetValue("")
	m.isLoading = true
	m.followLog = true
	m.refreshViewport(true)
	return m, tea.Batch(m.spinner.Tick, sendCmd(m.ctx, m.promptFn, text))
}

// record appends the transcript entries for one finished exchange.
func (m *model) record(exchange emulator.Exchange, err error) {
	m.lastStatus = exchange.Status
	if err != nil {
		var statusErr *emulator.StatusError
		if errors.As(err, &statusErr) {
			m.lastStatus = statusErr.Status
		}
		m.lastErr = err.Error()
		m.messages = append(m.messages, chatMessage{role: roleError, content: err.Error(), status: m.lastStatus})
		return
	}

	m.lastErr = ""
	if len(exchange.Replies) == 0 {
		m.messages = append(m.messages, chatMessage{role: roleNotice, content: "accepted, no reply", status: exchange.Status})
		return
	}
	for _, reply := range exchange.Replies {
		m.messages = append(m.messages, chatMessage{role: roleBot, content: reply.Text, status: exchange.Status})
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.mode == modeOneShot {
		return m.oneShotView()
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.banner.Width(m.width - 2).Render("echobot emulator")
	meta := m.theme.meta.Render(fmt.Sprintf(
		"endpoint:%s · conversation:%s · turns:%d · last:%s",
		displayOrNA(m.runtime.Endpoint),
		displayOrNA(m.runtime.ConversationID),
		conversationTurns(m.messages),
		m.renderStatus(m.lastStatus),
	))
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.footer.Render("Enter send  ·  PgUp/PgDn or wheel scroll  ·  End jump latest  ·  Ctrl+C/Esc quit")
	if m.isLoading {
		status = m.theme.busy.Render(fmt.Sprintf("%s waiting for the endpoint...", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.failed.Render("last turn failed, try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.frame.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.prompt.Render("You")+" "+m.theme.hint.Render("(type /exit, quit, or :q)"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := m.width - 6
	if w < 50 {
		w = 50
	}
	h := m.height - 10
	if m.mode == modeOneShot {
		h = m.height - 6
	}
	if h < 8 {
		h = 8
	}

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	sections := make([]string, 0, len(m.messages))
	for _, item := range m.messages {
		sections = append(sections, m.renderMessage(item, m.viewport.Width))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderMessage(item chatMessage, width int) string {
	body := strings.TrimSpace(item.content)
	if item.status != 0 {
		body = strings.TrimSpace(body + "\n\n" + m.theme.hint.Render("HTTP ")+m.renderStatus(item.status))
	}

	return m.theme.card(item.role).render(body, width)
}

func (m *model) renderStatus(status int) string {
	if status == 0 {
		return "n/a"
	}

	return m.theme.code(status).Render(fmt.Sprintf("%d %s", status, http.StatusText(status)))
}

func (m *model) oneShotView() string {
	contentWidth := max(40, m.width-6)
	parts := []string{m.theme.sent.render(strings.TrimSpace(m.oneShotInput), contentWidth)}

	if m.isLoading {
		parts = append(parts, m.theme.busy.Render(fmt.Sprintf("%s posting activity...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	for _, item := range m.messages {
		if item.role == roleUser {
			continue
		}
		parts = append(parts, m.renderMessage(item, contentWidth))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) bootView() string {
	header := m.theme.banner.Width(m.width - 2).Render("echobot emulator")
	meta := m.theme.meta.Render("connecting")
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.bootStep.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootReady.Render("endpoint online"))
	}

	body := m.theme.frame.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(wheelLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(wheelLines)
		m.followLog = m.viewport.AtBottom()
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] opening conversation",
		"[BOOT] checking /health",
		"[BOOT] ready to post activities",
	}
}

func sendCmd(ctx context.Context, promptFn PromptFunc, text string) tea.Cmd {
	return func() tea.Msg {
		exchange, err := promptFn(ctx, text)
		return exchangeMsg{exchange: exchange, err: err}
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == roleUser {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
