package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/pcsc-agent/internal/api"
	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/monitor"
	"github.com/SimplyPrint/pcsc-agent/internal/version"
)

func (o *options) newMonitor() *monitor.Monitor {
	return monitor.New(o.svc, monitor.Config{
		Scope:        o.cfg.Scope,
		PollTimeout:  o.cfg.PollTimeout,
		ReaderBuffer: o.cfg.ReaderBuffer,
	})
}

// runMonitor runs mon on its own goroutine, since Run keeps its goroutine
// locked to an OS thread. The returned channel yields Run's result.
func runMonitor(ctx context.Context, mon *monitor.Monitor) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- mon.Run(ctx)
	}()
	return done
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newMonitorCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Print reader and card events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			mon := o.newMonitor()
			id, events := mon.Subscribe(64)
			defer mon.Unsubscribe(id)

			done := runMonitor(ctx, mon)
			p := eventPrinter{out: cmd.OutOrStdout(), json: o.jsonOutput}
			for {
				select {
				case err := <-done:
					// Flush what was published before Run returned.
					for {
						select {
						case ev := <-events:
							p.print(ev)
						default:
							return err
						}
					}
				case ev := <-events:
					p.print(ev)
				}
			}
		},
	}
}

type eventPrinter struct {
	out  io.Writer
	json bool
}

func (p eventPrinter) print(ev monitor.Event) {
	if p.json {
		_ = json.NewEncoder(p.out).Encode(ev)
		return
	}
	line := fmt.Sprintf("%s %-14s %s", ev.Time.Format("15:04:05.000"), ev.Type, ev.Reader)
	if ev.State != "" {
		line += " [" + ev.State + "]"
	}
	if ev.ATR != "" {
		line += " atr=" + ev.ATR
	}
	fmt.Fprintln(p.out, line)
}

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			logging.Info(logging.CatSystem, "Starting pcsc-agent", map[string]any{
				"version": version.Version,
				"address": o.cfg.Address(),
				"scope":   o.cfg.Scope.String(),
				"origins": o.cfg.AllowedOrigins,
			})

			mon := o.newMonitor()
			monitorDone := runMonitor(ctx, mon)
			go func() {
				// Requests establish their own contexts, so the API keeps
				// serving without live events.
				if err := <-monitorDone; err != nil {
					logging.Error(logging.CatMonitor, "Reader monitor failed", map[string]any{
						"error": err.Error(),
					})
					logging.CaptureError(err, "monitor", nil)
				}
			}()

			return api.NewServer(o.svc, o.cfg, mon).Run(ctx)
		},
	}
	cmd.Flags().StringSliceVar(&o.allowedOrigins, "allow-origin", nil, "web origin allowed to call the API, repeatable (\"*\" allows any)")
	return cmd
}
