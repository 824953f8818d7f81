package main

import (
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apiserver "github.com/crmtools/dedup-planner/internal/api_server"
	"github.com/crmtools/dedup-planner/internal/approval"
	"github.com/crmtools/dedup-planner/internal/classifier"
	"github.com/crmtools/dedup-planner/internal/config"
	"github.com/crmtools/dedup-planner/internal/crm"
	"github.com/crmtools/dedup-planner/internal/events"
	"github.com/crmtools/dedup-planner/internal/report"
	"github.com/crmtools/dedup-planner/internal/runner"
	"github.com/crmtools/dedup-planner/internal/service"
	"github.com/crmtools/dedup-planner/internal/store"
	"github.com/crmtools/dedup-planner/internal/store/model"
	"github.com/crmtools/dedup-planner/pkg/log"
)

func runAPIService(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	logLvl := log.ParseLevel(cfg.Service.LogLevel)
	logger := log.InitLog(logLvl)
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := events.NewBroadcaster()
	dataStore := store.NewStore(func(job model.Job) {
		broadcaster.Publish(job.ID, job)
	})
	defer func() { _ = dataStore.Close() }()

	gate := approval.NewGate()

	source := crm.NewInMemory()
	source.Seed(crm.DemoData())

	var detector classifier.Classifier
	switch cfg.Classifier.Provider {
	case "openai":
		detector = classifier.NewLLM(cfg.Classifier.OpenAIToken, cfg.Classifier.OpenAIModel)
	default:
		detector = classifier.NewHeuristic()
	}

	opts := []runner.Option{
		runner.WithApprovalTimeout(cfg.Workflow.ApprovalTimeout),
		runner.WithMutationBatchSize(cfg.Workflow.MutationBatchSize),
	}
	if cfg.Workflow.ReportsEnabled {
		opts = append(opts, runner.WithReportSink(report.NewXLSXSink(cfg.Workflow.ReportDir)))
	}
	jobRunner := runner.New(dataStore, gate, source, detector, opts...)

	jobs := service.NewJobService(ctx, dataStore, jobRunner, gate, broadcaster)

	listener, err := net.Listen("tcp", cfg.Service.Address)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiserver.New(cfg, jobs, listener).Run(groupCtx)
	})
	group.Go(func() error {
		return apiserver.NewMetricsServer(cfg.Service.MetricsAddress).Run(groupCtx)
	})
	return group.Wait()
}
