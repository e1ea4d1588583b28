package main

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/brbranch/parmira/internal/logging"
	"github.com/brbranch/parmira/internal/model"
	"github.com/brbranch/parmira/internal/tools"
	"github.com/brbranch/parmira/internal/transport/http"
	"github.com/brbranch/parmira/internal/transport/stdio"
)

// defaultServePort はservers設定にポートがない場合に使う
const defaultServePort = 8000

// transportValue は -t に渡せる値を stdio / http に限定する
type transportValue string

var _ pflag.Value = (*transportValue)(nil)

func (t *transportValue) String() string { return string(*t) }
func (t *transportValue) Type() string   { return "transport" }

func (t *transportValue) Set(s string) error {
	switch s {
	case model.TransportStdio, model.TransportHTTP:
		*t = transportValue(s)
		return nil
	default:
		return fmt.Errorf("invalid transport: %s (must be stdio or http)", s)
	}
}

func (a *app) serveCmd() *cobra.Command {
	transport := transportValue(model.TransportStdio)
	var (
		host        string
		port        int
		corsOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "serve <bundle>",
		Short: "Run a tool bundle as an MCP server",
		Long: `serve exposes one tool bundle over MCP (JSON-RPC 2.0).

Bundles: shell, sqlite, python, fetch, fs, memory, all.
Over HTTP the server answers JSON-RPC on POST /rpc and each tool on
POST /<tool>, with /health for liveness.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: append(append([]string{}, tools.Bundles...), tools.BundleAll),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle := args[0]
			if port < 0 || port > 65535 {
				return fmt.Errorf("invalid port: %d (must be 1-65535)", port)
			}

			ctx, cancel := setupSignalHandler(cmd.Context())
			defer cancel()

			services, cleanup, err := a.services(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			handler, err := services.Handler(bundle)
			if err != nil {
				return err
			}
			logger := logging.New(services.Config.Log, logging.ComponentServer).With("bundle", bundle)

			switch string(transport) {
			case model.TransportHTTP:
				if port == 0 {
					port = servePort(services.Config.Servers[bundle])
				}
				addr := net.JoinHostPort(host, strconv.Itoa(port))
				logger.Info("serving MCP over HTTP", "addr", addr, "tools", len(handler.Registry().Tools()))
				server := http.New(handler, http.Config{
					Addr:        addr,
					CORSOrigins: corsOrigins,
					Tools:       handler.Registry(),
					Logger:      logger,
				})
				return server.Run(ctx)
			default:
				logger.Info("serving MCP over stdio", "tools", len(handler.Registry().Tools()))
				server := stdio.New(handler,
					stdio.WithReader(cmd.InOrStdin()),
					stdio.WithWriter(cmd.OutOrStdout()),
					stdio.WithLogger(logger),
				)
				return server.Run(ctx)
			}
		},
	}

	cmd.Flags().VarP(&transport, "transport", "t", "transport type: stdio, http")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "HTTP host")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default: port of servers.<bundle>.url, else 8000)")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors", nil, "allowed CORS origins (comma-separated)")
	return cmd
}

// servePort は servers.<bundle>.url のポートを返す
func servePort(sc model.ServerConfig) int {
	if sc.URL == "" {
		return defaultServePort
	}
	u, err := url.Parse(sc.URL)
	if err != nil {
		return defaultServePort
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil || p <= 0 {
		return defaultServePort
	}
	return p
}
