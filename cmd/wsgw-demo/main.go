package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sammck-go/wsgateway/pkg/sdk"
	gwshare "github.com/sammck-go/wsgateway/share"
)

type options struct {
	url      string
	wire     string
	name     string
	logLevel string
}

func (o *options) config(prefix string) sdk.Config {
	level := gwshare.StringToLogLevel(o.logLevel)
	if level == gwshare.LogLevelUnknown {
		level = gwshare.LogLevelInfo
	}
	return sdk.Config{
		URL:              o.url,
		Wire:             o.wire,
		MaxRetryCount:    -1,
		MaxRetryInterval: 5 * time.Second,
		Logger:           gwshare.NewLogger(prefix, level),
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serviceCmd(opts *options) *cobra.Command {
	var tick time.Duration
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Register an echo service",
		Long: `Register a service that answers "echo" calls with their payload
and broadcasts a counter under the "tick" key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cfg := sdk.ServiceConfig{
				Config:  opts.config("demo-service"),
				Name:    opts.name,
				Type:    "demo",
				Version: gwshare.BuildVersion,
			}
			svc, err := sdk.Register(ctx, cfg, map[string]sdk.Handler{
				"echo": func(ctx context.Context, req *sdk.Request) ([]byte, error) {
					return req.Payload, nil
				},
				"fail": func(ctx context.Context, req *sdk.Request) ([]byte, error) {
					return nil, fmt.Errorf("failing on request %d as asked", req.ID)
				},
			})
			if err != nil {
				return err
			}
			defer svc.Close()

			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			for n := 1; ; n++ {
				select {
				case <-ctx.Done():
					return nil
				case <-svc.ShutdownDoneChan():
					return svc.WaitShutdown()
				case <-ticker.C:
					if err := svc.Broadcast("tick", []byte(fmt.Sprintf("tick %d", n))); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&tick, "tick", time.Second, "broadcast interval")
	return cmd
}

func clientCmd(opts *options) *cobra.Command {
	var (
		message string
		ticks   int
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Call and subscribe to the echo service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			cl, err := sdk.Dial(ctx, opts.config("demo-client"))
			if err != nil {
				return err
			}
			defer cl.Close()

			online := make(chan struct{}, 1)
			cl.OnWait(func(service string, up bool) {
				if service == opts.name && up {
					select {
					case online <- struct{}{}:
					default:
					}
				}
			})
			up, err := cl.Wait(ctx, opts.name)
			if err != nil {
				return err
			}
			if !up {
				fmt.Printf("waiting for %s\n", opts.name)
				select {
				case <-online:
				case <-ctx.Done():
					return nil
				}
			}
			if _, err := cl.CancelWait(ctx, opts.name); err != nil {
				return err
			}

			services, err := cl.ListServices(ctx)
			if err != nil {
				return err
			}
			for _, s := range services {
				fmt.Printf("service %s (%s: %s)\n", s.Name, s.Type, s.Version)
			}

			reply, err := cl.Invoke(ctx, opts.name, "echo", []byte(message))
			if err != nil {
				return err
			}
			fmt.Printf("echo: %s\n", reply)

			events := make(chan []byte, 16)
			if _, err := cl.Subscribe(ctx, opts.name, "tick", func(payload []byte) {
				select {
				case events <- payload:
				default:
				}
			}); err != nil {
				return err
			}
			for i := 0; i < ticks; i++ {
				select {
				case ev := <-events:
					fmt.Printf("event: %s\n", ev)
				case <-cl.ShutdownDoneChan():
					return cl.WaitShutdown()
				case <-ctx.Done():
					return nil
				}
			}
			_, err = cl.Unsubscribe(ctx, opts.name, "tick")
			return err
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "hello", "payload for the echo call")
	cmd.Flags().IntVar(&ticks, "ticks", 3, "number of tick events to print")
	return cmd
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "wsgw-demo",
		Short:         "Demo service and client for wsgateway",
		Version:       gwshare.BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pflags := cmd.PersistentFlags()
	pflags.StringVar(&opts.url, "url", "", "gateway address; defaults to the service or client listener on localhost")
	pflags.StringVar(&opts.wire, "wire", "msgpack", "field format: msgpack or protowire")
	pflags.StringVar(&opts.name, "name", "echo", "service name")
	pflags.StringVar(&opts.logLevel, "log-level", "info", "log level")
	cmd.AddCommand(serviceCmd(opts), clientCmd(opts))
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if opts.url != "" {
			return
		}
		if cmd.Name() == "service" {
			opts.url = "localhost:8818"
		} else {
			opts.url = "localhost:8808"
		}
	}
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
