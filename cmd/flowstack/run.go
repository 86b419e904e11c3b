package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claudio-flowstack/flowstack/internal/i18n"
	internalnats "github.com/claudio-flowstack/flowstack/internal/nats"
	"github.com/claudio-flowstack/flowstack/internal/tracing"
	"github.com/claudio-flowstack/flowstack/pkg/archive"
	"github.com/claudio-flowstack/flowstack/pkg/natssource"
	"github.com/claudio-flowstack/flowstack/pkg/simulator"
	"github.com/claudio-flowstack/flowstack/pkg/tracker"
	"github.com/claudio-flowstack/flowstack/pkg/transport"
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

type runOptions struct {
	catalogPath      string
	natsURL          string
	remote           bool
	collectArtifacts bool
	archive          bool
}

func (a *app) runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <systemId>",
		Short: "Execute a system and print its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("nats") {
				opts.remote = true
			}
			if !cmd.Flags().Changed("collect-artifacts") {
				opts.collectArtifacts = a.cfg.CollectArtifacts
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.run(ctx, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.catalogPath, "catalog", "", "YAML catalog file (default: built-in demo systems)")
	cmd.Flags().StringVar(&opts.natsURL, "nats", "", "execute through a relay at this NATS URL instead of locally")
	cmd.Flags().BoolVar(&opts.collectArtifacts, "collect-artifacts", false, "include artifacts in the execution result (env FLOWSTACK_COLLECT_ARTIFACTS)")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "archive the execution to blob storage (needs FLOWSTACK_BLOB_CONNECTION_STRING)")
	return cmd
}

func (a *app) run(ctx context.Context, systemID string, opts runOptions) error {
	cat, err := loadCatalog(opts.catalogPath)
	if err != nil {
		return err
	}
	sys, err := cat.Get(systemID)
	if err != nil {
		return err
	}

	tcfg := tracing.DefaultConfig("flowstack")
	tcfg.OTLPEndpoint = a.cfg.OTLPEndpoint
	tcfg.SampleRatio = a.cfg.TraceSampleRatio
	shutdown, err := tracing.Setup(ctx, tcfg, a.logger)
	if err != nil {
		return err
	}
	defer tracing.Shutdown(shutdown, 5*time.Second, a.logger)

	source, closeSource, err := a.newSource(ctx, opts)
	if err != nil {
		return err
	}
	defer closeSource()

	var recorder *archive.Recorder
	if opts.archive {
		archiver, err := a.newArchiver()
		if err != nil {
			return err
		}
		recorder = archive.NewRecorder(archiver, source, 30*time.Second)
		defer recorder.Close()
	}

	tr := tracker.New(source, a.logger)
	defer tr.Close()

	source.OnNodeStatus(func(e workflow.NodeStatusEvent) {
		label := string(e.NodeID)
		if n, ok := sys.Node(e.NodeID); ok && n.Label != "" {
			label = n.Label
		}
		a.print.Fprintln(a.out, i18n.MsgNodeStatus, e.Time().UTC().Format("15:04:05.000"), a.print.Status(e.Status), label+": "+a.print.Text(e.Message))
	})
	source.OnArtifact(func(art workflow.Artifact) {
		a.print.Fprintln(a.out, i18n.MsgArtifact, art.NodeID, art.Label, a.print.ArtifactType(art.Type))
	})

	a.print.Fprintln(a.out, i18n.MsgExecuting, sys.Name, len(sys.Nodes), len(sys.Connections))
	if err := tr.Execute(sys.ID, sys.NodeIDs(), sys.WorkflowConnections(), workflow.WithNodeTypes(sys.NodeTypes())); err != nil {
		return err
	}

	res, err := tr.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.print.Fprintln(a.out, i18n.MsgInterrupted)
			return nil
		}
		return err
	}

	completed := 0
	for _, st := range res.NodeStates {
		if st == workflow.NodeStatusCompleted {
			completed++
		}
	}
	a.print.Fprintln(a.out, i18n.MsgCompleted, res.ExecutionID, a.print.ExecutionStatus(res.Status),
		completed, len(sys.Nodes), len(tr.Snapshot().Artifacts))

	if recorder != nil {
		recorder.Close()
		for _, url := range recorder.URLs() {
			a.print.Fprintln(a.out, i18n.MsgArchived, url)
		}
	}
	if res.Status == workflow.ExecutionStatusFailed {
		return fmt.Errorf("execution of %s failed", sys.ID)
	}
	return nil
}

// newSource returns the local simulator or, with --nats, a remote source.
func (a *app) newSource(ctx context.Context, opts runOptions) (workflow.EventSource, func(), error) {
	if !opts.remote {
		sim := simulator.New(&simulator.Config{
			Logger:           a.logger,
			Clock:            a.clock,
			CollectArtifacts: opts.collectArtifacts,
		})
		return sim, sim.Dispose, nil
	}

	url := opts.natsURL
	if url == "" {
		url = a.cfg.NATSURL
	}
	ncfg := internalnats.DefaultConnectionConfig(url)
	ncfg.Name = "flowstack-run"
	ncfg.Logger = a.logger
	nc, err := internalnats.Connect(ctx, ncfg)
	if err != nil {
		return nil, nil, err
	}

	src, err := natssource.New(natssource.Config{
		Conn:          transport.WrapNATSConn(nc),
		SubjectPrefix: a.cfg.SubjectPrefix,
		Retry:         transport.DefaultRetryPolicy(),
		Logger:        a.logger,
	})
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	a.logger.Info("Using remote source", zap.String("url", url), zap.String("source_id", src.ID()))

	return src, func() {
		src.Dispose()
		if err := internalnats.Close(nc); err != nil {
			a.logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}, nil
}

func (a *app) newArchiver() (*archive.Archiver, error) {
	if a.cfg.BlobConnectionString == "" {
		return nil, fmt.Errorf("archiving needs FLOWSTACK_BLOB_CONNECTION_STRING")
	}
	blobs, err := archive.NewAzureBlobClient(a.cfg.BlobConnectionString, a.cfg.BlobContainer, a.logger)
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(blobs, a.logger)
}
