package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LuminPulse-AI/chatsync"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenMetricsAddr string

func init() {
	listenCmd.Flags().StringVar(&listenMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream realtime events until interrupted",
	Long:  "Connect every realtime channel and print each inbound envelope as '<channel> <type> <data>'.\nPushed entities are folded into the local cache while listening.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, func(ctx context.Context, d deps) error {
			if listenMetricsAddr != "" {
				srv := serveMetrics(d, listenMetricsAddr)
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx) //nolint:errcheck
				}()
			}

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			for _, ch := range d.Manager.Channels() {
				events, cancel := ch.All().Subscribe(ctx)
				defer cancel()
				go func(name string, events <-chan chatsync.Envelope) {
					for env := range events {
						mu.Lock()
						fmt.Fprintf(out, "%s %s %s\n", name, env.Type, env.Data)
						mu.Unlock()
					}
				}(ch.Name(), events)

				states, cancelStates := ch.States().Subscribe(ctx)
				defer cancelStates()
				go func(name string, states <-chan chatsync.ConnectionState) {
					for s := range states {
						d.Logger.Info("state", zap.String("channel", name), zap.Stringer("state", s))
					}
				}(ch.Name(), states)
			}

			go func() {
				if err := d.Push.Run(ctx, d.Manager); err != nil && !errors.Is(err, context.Canceled) {
					d.Logger.Warn("push applier stopped", zap.Error(err))
				}
			}()

			d.Manager.ConnectAll(ctx, "")
			<-ctx.Done()
			return nil
		})
	},
}

func serveMetrics(d deps, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.Logger.Error("metrics server", zap.Error(err))
		}
	}()
	d.Logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
