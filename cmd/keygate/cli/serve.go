package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/octopushq/keygate/internal/server"
)

const banner = `
 _  _________   ______   _ _____ _____
| |/ / __\ \ \ / / ___| / \_   _| ____|
| ' /|  _| \ V / |  _  / _ \| | |  _|
|_|\_\___|  |_| \____|/_/ \_\_| |_____|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long:  "Start the HTTP server that issues, validates, and audits API keys.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg, false)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	defer st.Close()
	logger.Info("key store ready", "driver", st.Driver())

	svcs := newServices(st, logger)

	// Warn operators of an empty store: nothing can authenticate until the
	// bootstrap endpoint or command runs.
	done, err := svcs.bootstrap.Bootstrapped(context.Background())
	if err != nil {
		logger.Warn("failed to check bootstrap state", "error", err)
	} else if !done {
		logger.Warn("no API keys exist - POST /api/v1/bootstrap or run: keygate bootstrap")
	}

	srv := server.New(cfg, versionString(), st, server.Services{
		Auth:      svcs.auth,
		Keys:      svcs.keys,
		Audit:     svcs.audit,
		Bootstrap: svcs.bootstrap,
	}, logger)

	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	fmt.Printf("→ Keygate %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s\n", scheme, cfg.Server.ListenAddr())
	fmt.Printf("→ OpenAPI:  %s://%s/openapi.json\n", scheme, cfg.Server.ListenAddr())
	fmt.Printf("→ Health:   %s://%s/healthz\n", scheme, cfg.Server.ListenAddr())
	fmt.Printf("→ Credential header: %s\n", cfg.Auth.APIKeyHeader)
	fmt.Println()

	return srv.ListenAndServe()
}
