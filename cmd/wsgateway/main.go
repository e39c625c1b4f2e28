package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sammck-go/wsgateway/pkg/server"
	gwshare "github.com/sammck-go/wsgateway/share"
)

func newRootCmd() *cobra.Command {
	var (
		serviceAddr  string
		gatewayAddr  string
		logLevel     string
		logFile      string
		wireName     string
		pingInterval time.Duration
		debug        bool
	)
	cmd := &cobra.Command{
		Use:   "wsgateway",
		Short: "Websocket gateway between backend services and clients",
		Long: `Run a websocket gateway. Services register on the service listener
and clients on the gateway listener call them, subscribe to their broadcasts
and wait for them to come online.

Defaults are read from WSGW_* environment variables; flags override them.`,
		Version:       gwshare.BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gwshare.LoadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("service") {
				cfg.ServiceAddr = serviceAddr
			}
			if flags.Changed("gateway") {
				cfg.GatewayAddr = gatewayAddr
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("log-file") {
				cfg.LogFile = logFile
			}
			if flags.Changed("wire") {
				cfg.Wire = wireName
			}
			if flags.Changed("ping-interval") {
				cfg.PingInterval = pingInterval
			}
			if debug {
				cfg.LogLevel = gwshare.LogLevelDebug.String()
			}

			logger := gwshare.NewLoggerWithBackend("wsgateway", gwshare.NewFileBackend(cfg.LogFile), cfg.GetLogLevel())
			srv, err := server.NewServer(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.ILogf("wsgateway %s: services on %s, clients on %s", gwshare.BuildVersion, cfg.ServiceAddr, cfg.GatewayAddr)
			return srv.Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&serviceAddr, "service", "", "listen address for services (WSGW_SERVICE_ADDR)")
	flags.StringVar(&gatewayAddr, "gateway", "", "listen address for clients (WSGW_GATEWAY_ADDR)")
	flags.StringVar(&logLevel, "log-level", "", "log level: panic, fatal, error, warning, info, debug or trace (WSGW_LOG_LEVEL)")
	flags.StringVar(&logFile, "log-file", "", "also log to this file, rotated (WSGW_LOG_FILE)")
	flags.StringVar(&wireName, "wire", "", "field format on both listeners: msgpack or protowire (WSGW_WIRE)")
	flags.DurationVar(&pingInterval, "ping-interval", 0, "websocket keepalive ping interval (WSGW_PING_INTERVAL)")
	flags.BoolVarP(&debug, "debug", "v", false, "shorthand for --log-level=debug")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
