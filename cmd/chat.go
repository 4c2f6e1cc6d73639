package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"echobot/pkg/ui/chat"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running endpoint from the terminal",
	Long:  "Opens a terminal emulator that posts every line as a message activity in one conversation and shows the replies with their status codes.",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	addEndpointFlags(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	_ = args

	client, err := newEmulatorClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("endpoint is not healthy: %w", err)
	}

	info := chat.RuntimeInfo{Endpoint: client.BaseURL(), ConversationID: client.ConversationID()}
	return chat.RunInteractive(ctx, client.Send, info)
}
