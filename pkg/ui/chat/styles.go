package chat

import (
	"net/http"

	"github.com/charmbracelet/lipgloss"
)

// palette colors, ANSI 256.
const (
	colorAmber   = "214"
	colorCyan    = "44"
	colorSlate   = "109"
	colorRed     = "203"
	colorGreen   = "114"
	colorRust    = "130"
	colorInk     = "16"
	colorPaper   = "230"
	colorShadow  = "233"
	colorPanel   = "236"
	colorMuted   = "244"
	colorPale    = "250"
	colorWarning = "222"
)

// card frames one transcript entry: a label tab above a bordered body.
type card struct {
	label string
	tab   lipgloss.Style
	body  lipgloss.Style
}

func newCard(label string, accent string, background string, border lipgloss.Border) card {
	return card{
		label: "[ " + label + " ]",
		tab: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorInk)).
			Background(lipgloss.Color(accent)).
			Padding(0, 1),
		body: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color(accent)).
			Background(lipgloss.Color(background)).
			Padding(0, 1),
	}
}

func (c card) render(content string, width int) string {
	return lipgloss.JoinVertical(lipgloss.Left, c.tab.Render(c.label), c.body.Width(width).Render(content))
}

// theme holds the styles of the emulator screen.
type theme struct {
	cards map[role]card
	sent  card

	// status codes by class: 2xx, 4xx, 5xx.
	codeOK     lipgloss.Style
	codeClient lipgloss.Style
	codeServer lipgloss.Style

	banner    lipgloss.Style
	meta      lipgloss.Style
	rule      lipgloss.Style
	frame     lipgloss.Style
	bootStep  lipgloss.Style
	bootReady lipgloss.Style
	footer    lipgloss.Style
	busy      lipgloss.Style
	failed    lipgloss.Style
	hint      lipgloss.Style
	prompt    lipgloss.Style
	input     lipgloss.Style
}

func defaultTheme() theme {
	bold := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color))
	}
	plain := func(color string) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}

	return theme{
		cards: map[role]card{
			roleUser:   newCard("you", colorAmber, "235", lipgloss.DoubleBorder()),
			roleBot:    newCard("bot", colorCyan, "234", lipgloss.DoubleBorder()),
			roleNotice: newCard("endpoint", colorSlate, colorPanel, lipgloss.RoundedBorder()),
			roleError:  newCard("error", colorRed, "52", lipgloss.DoubleBorder()),
		},
		sent: newCard("sent", colorAmber, "235", lipgloss.DoubleBorder()),

		codeOK:     bold(colorGreen),
		codeClient: bold(colorWarning),
		codeServer: bold(colorRed),

		banner: bold(colorPaper).Padding(0, 1).Background(lipgloss.Color("88")),
		meta:   plain("223"),
		rule:   plain(colorRust),
		frame: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color(colorRust)).
			Background(lipgloss.Color(colorShadow)).
			Padding(0, 1),
		bootStep:  plain("180"),
		bootReady: bold(colorGreen),
		footer:    bold(colorPale),
		busy:      bold(colorWarning),
		failed:    bold(colorRed),
		hint:      plain(colorMuted),
		prompt:    bold("229"),
		input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("173")).
			Background(lipgloss.Color(colorPanel)).
			Padding(0, 1),
	}
}

func (t theme) card(r role) card {
	if c, ok := t.cards[r]; ok {
		return c
	}

	return t.cards[roleError]
}

// code picks the style for an HTTP status by its class.
func (t theme) code(status int) lipgloss.Style {
	switch {
	case status >= http.StatusInternalServerError:
		return t.codeServer
	case status >= http.StatusBadRequest:
		return t.codeClient
	default:
		return t.codeOK
	}
}
