package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	// messages
	messagesLimit int
	messagesJSON  bool

	// send
	sendType string
	sendJSON bool
)

func init() {
	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 50, "Maximum number of messages to show")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(messagesCmd)

	sendCmd.Flags().StringVar(&sendType, "type", "text", "Message type")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(sendCmd)
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation>",
	Short: "Show a conversation's messages",
	Long:  "Fetch a conversation's messages from the backend, falling back to the local cache when the backend is unreachable.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, d deps) error {
			msgs, origin, err := d.Messages.Conversation(ctx, args[0], chatsync.PageOptions{Limit: messagesLimit})
			if err != nil {
				return fmt.Errorf("fetch messages: %w", err)
			}
			if origin == chatsync.FromCache {
				fmt.Fprintln(cmd.ErrOrStderr(), "Backend unreachable; showing cached messages.")
			}

			out := cmd.OutOrStdout()
			if messagesJSON {
				return printJSON(out, msgs)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No messages.")
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), m.SenderID, oneLine(m.Content))
			}
			return nil
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <text>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, d deps) error {
			msg, err := d.Messages.Send(ctx, chatsync.SendMessageRequest{
				ClientID:       uuid.NewString(),
				ConversationID: args[0],
				Type:           sendType,
				Content:        strings.Join(args[1:], " "),
			})
			if err != nil {
				return fmt.Errorf("send message: %w", err)
			}

			out := cmd.OutOrStdout()
			if sendJSON {
				return printJSON(out, msg)
			}
			fmt.Fprintf(out, "Message sent (id: %s)\n", msg.ID)
			return nil
		})
	},
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
