package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/internal/i18n"
	internalnats "github.com/claudio-flowstack/flowstack/internal/nats"
	"github.com/claudio-flowstack/flowstack/internal/tracing"
	"github.com/claudio-flowstack/flowstack/pkg/archive"
	"github.com/claudio-flowstack/flowstack/pkg/relay"
	"github.com/claudio-flowstack/flowstack/pkg/simulator"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
)

func (a *app) relayCmd() *cobra.Command {
	var natsURL string
	var withArchive bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve simulated executions to remote sources over NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if natsURL == "" {
				natsURL = a.cfg.NATSURL
			}

			tcfg := tracing.DefaultConfig("flowstack-relay")
			tcfg.OTLPEndpoint = a.cfg.OTLPEndpoint
			tcfg.SampleRatio = a.cfg.TraceSampleRatio
			shutdown, err := tracing.Setup(ctx, tcfg, a.logger)
			if err != nil {
				return err
			}
			defer tracing.Shutdown(shutdown, 5*time.Second, a.logger)

			var archiver *archive.Archiver
			if withArchive {
				if archiver, err = a.newArchiver(); err != nil {
					return err
				}
			}

			ncfg := internalnats.DefaultConnectionConfig(natsURL)
			ncfg.Name = "flowstack-relay"
			ncfg.MaxReconnects = -1
			ncfg.Logger = a.logger
			nc, err := internalnats.Connect(ctx, ncfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := internalnats.Close(nc); err != nil {
					a.logger.Warn("Failed to close NATS connection", zap.Error(err))
				}
			}()

			collect := a.cfg.CollectArtifacts
			r, err := relay.New(relay.Config{
				Conn:          transport.WrapNATSConn(nc),
				SubjectPrefix: a.cfg.SubjectPrefix,
				Retry:         transport.DefaultRetryPolicy(),
				RequestRate:   a.cfg.RelayRate,
				RequestBurst:  a.cfg.RelayBurst,
				MaxSessions:   a.cfg.MaxSessions,
				Simulator: func() *simulator.Config {
					return &simulator.Config{Clock: a.clock, CollectArtifacts: collect}
				},
				Archiver: archiver,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			if err := r.Start(); err != nil {
				return fmt.Errorf("start relay: %w", err)
			}
			defer r.Close()

			a.print.Fprintln(a.out, i18n.MsgRelayListening, natsURL)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL (env FLOWSTACK_NATS_URL)")
	cmd.Flags().BoolVar(&withArchive, "archive", false, "archive completed executions to blob storage")
	return cmd
}
