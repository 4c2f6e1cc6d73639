package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"echobot/pkg/config"
	"echobot/pkg/emulator"
)

var (
	promptText  string
	endpointURL string
	bearerToken string
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Post one message activity to a running endpoint",
	Long:  "Posts a message activity to a running echobot endpoint and prints the reply.",
	RunE:  runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&promptText, "text", "t", "", "message text to send")
	addEndpointFlags(sendCmd)
}

func addEndpointFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&endpointURL, "endpoint", "", "endpoint base URL (default derived from server config)")
	cmd.Flags().StringVar(&bearerToken, "token", "", "bearer token for the Authorization header")
}

func runSend(cmd *cobra.Command, args []string) error {
	text := resolvePrompt(args)
	if text == "" {
		return errors.New("nothing to send: pass text as arguments or with --text")
	}

	client, err := newEmulatorClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return sendOnce(ctx, client, text, cmd.OutOrStdout())
}

func newEmulatorClient() (*emulator.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return emulator.New(resolveEndpoint(endpointURL, cfg.Server), bearerToken), nil
}

func sendOnce(ctx context.Context, client *emulator.Client, text string, out io.Writer) error {
	exchange, err := client.Send(ctx, text)
	if err != nil {
		return fmt.Errorf("send activity: %w", err)
	}

	printExchange(out, exchange)
	return nil
}

func resolvePrompt(args []string) string {
	if value := strings.TrimSpace(promptText); value != "" {
		return value
	}

	return strings.TrimSpace(strings.Join(args, " "))
}

// resolveEndpoint prefers the flag and otherwise points at the local server.
func resolveEndpoint(flagValue string, server config.ServerConfig) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}

	host := strings.TrimSpace(server.Host)
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, strconv.Itoa(server.Port))
}

func printExchange(out io.Writer, exchange emulator.Exchange) {
	if len(exchange.Replies) == 0 {
		fmt.Fprintf(out, "(%d, no reply)\n", exchange.Status)
		return
	}

	for _, line := range replyLines(exchange.Text()) {
		fmt.Fprintf(out, "bot> %s\n", line)
	}
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
