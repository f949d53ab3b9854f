package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/titan/pkg/cli/config"
	"github.com/secmon-lab/titan/pkg/service/worker"
	"github.com/secmon-lab/titan/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func cmdServe() *cli.Command {
	var configPath string
	var nodeCfg config.Node
	var vaultCfg config.Vault
	var sentryCfg config.Sentry

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a TOML config file. Flags and environment variables take precedence",
			Sources:     cli.EnvVars("TITAN_CONFIG"),
			Destination: &configPath,
		},
	}
	flags = append(flags, nodeCfg.Flags()...)
	flags = append(flags, vaultCfg.Flags()...)
	flags = append(flags, sentryCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start a titan node",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if configPath != "" {
				f, err := config.LoadFile(configPath)
				if err != nil {
					return err
				}
				nodeCfg.Apply(c, f)
				vaultCfg.Apply(c, f)
			}
			if err := nodeCfg.Validate(); err != nil {
				return err
			}
			if err := vaultCfg.Validate(); err != nil {
				return err
			}

			flush, err := sentryCfg.Configure(c.Root().Version)
			if err != nil {
				return err
			}
			defer flush()

			logging.Default().Info("Configuration loaded",
				"node", &nodeCfg,
				"vault", &vaultCfg,
				"sentry", &sentryCfg,
			)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := newNode(ctx, &nodeCfg, &vaultCfg)
			if err != nil {
				return err
			}
			defer n.Close(ctx)

			return serve(ctx, n, nodeCfg.Addr(), nodeCfg.StatusInterval())
		},
	}
}

// serve runs the HTTP listener and the status reporter until ctx is cancelled.
// Peer connections see ctx through BaseContext and close when it ends.
func serve(ctx context.Context, n *node, addr string, statusInterval time.Duration) error {
	reporter := worker.NewStatusReporter(n.usecases.Signal, statusInterval)
	if err := reporter.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start status reporter")
	}
	defer reporter.Stop()

	server := &http.Server{
		Addr:              addr,
		Handler:           n.handler,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logging.From(ctx).Info("Starting titan node", "addr", addr, "node_id", n.identity.NodeID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return goerr.Wrap(err, "failed to start server", goerr.V("addr", addr))
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logging.From(ctx).Info("Shutting down titan node")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return goerr.Wrap(err, "failed to shutdown server gracefully")
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	logging.From(ctx).Info("Server shutdown completed")
	return nil
}
