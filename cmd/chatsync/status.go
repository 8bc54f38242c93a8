package main

import (
	"context"
	"fmt"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/spf13/cobra"
)

var statusWait time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusWait, "wait", 5*time.Second, "How long to wait for all channels to connect")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, backend health and channel connectivity",
	Long:  "Display the current configuration, check backend health, then connect every realtime channel once and report its state.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, d deps) error {
			out := cmd.OutOrStdout()
			cfg := d.Config

			fmt.Fprintln(out, "Configuration:")
			fmt.Fprintf(out, "  Base URL:   %s\n", cfg.Default.BaseURL)
			fmt.Fprintf(out, "  Cache:      %s\n", valueOrDefault(cfg.Cache.Path, "(memory)"))
			fmt.Fprintf(out, "  Token:      %s\n", tokenStatus(ctx, cfg.Auth.Token))

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Backend:")
			hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := d.Client.Health(hctx)
			cancel()
			if err != nil {
				fmt.Fprintf(out, "  Health:     unreachable (%v)\n", err)
			} else {
				fmt.Fprintln(out, "  Health:     ok")
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Realtime:")
			d.Manager.ConnectAll(ctx, "")
			waitConnected(ctx, d.Manager, statusWait)
			for _, ch := range d.Manager.Channels() {
				fmt.Fprintf(out, "  %-10s  %s\n", ch.Name()+":", ch.State())
			}
			d.Manager.DisconnectAll()
			return nil
		})
	},
}

// tokenStatus describes the configured token without printing it.
func tokenStatus(ctx context.Context, token string) string {
	if token == "" {
		return "(not set)"
	}
	r := &chatsync.JWTTokenResolver{Source: chatsync.StaticToken(token)}
	if t, _ := r.Token(ctx); t == "" {
		return maskKey(token) + " (EXPIRED)"
	}
	return maskKey(token)
}

// waitConnected polls until every channel is connected or timeout passes.
func waitConnected(ctx context.Context, mgr *chatsync.Manager, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		if mgr.IsConnected() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
}
