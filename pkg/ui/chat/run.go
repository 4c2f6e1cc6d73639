// Package chat is a terminal emulator for a running bot endpoint.
package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"echobot/pkg/emulator"
)

// PromptFunc sends one message and returns the endpoint's answer.
type PromptFunc func(ctx context.Context, text string) (emulator.Exchange, error)

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Endpoint       string
	ConversationID string
}

func RunInteractive(ctx context.Context, promptFn PromptFunc, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, promptFn PromptFunc, prompt string, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeOneShot, prompt, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("echobot emulator closed")
}
