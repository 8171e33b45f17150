package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"spectra/config"
	"spectra/handlers"
	"spectra/services"
	"spectra/types"
	"spectra/websocket"
)

// appOptions selects which long-lived parts an app runs.
type appOptions struct {
	// supervise launches and watches the worker process.
	supervise bool
	// offline makes worker calls fail fast so work stays pending for the
	// server to resume.
	offline bool
	// events starts a websocket hub for job and worker events.
	events bool
	// resume queues pending analysis whenever the worker turns healthy.
	resume bool
	// progress receives download progress bars.
	progress io.Writer
}

// app is the wired core shared by the server and the CLI commands.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	catalog    *services.Catalog
	hub        websocket.Hub
	supervisor *services.Supervisor
	core       *services.Orchestrator

	resume  bool
	resumes sync.WaitGroup
}

type offlineWorker struct{}

func (offlineWorker) Ready() bool { return false }

func newApp(cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	catalog, err := services.OpenCatalog(cfg.Paths.DBPath, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, catalog: catalog, resume: opts.resume}

	var events services.EventPublisher
	if opts.events {
		a.hub = websocket.NewHub(logger)
		events = a.hub
	}

	var readiness services.Readiness
	switch {
	case opts.offline:
		readiness = offlineWorker{}
	case opts.supervise && cfg.Worker.Enabled:
		a.supervisor = services.NewSupervisor(cfg.Worker, logger)
		readiness = a.supervisor
	}
	worker := services.NewWorkerClient(cfg.WorkerURL(), readiness,
		cfg.Worker.AnalysisTimeout(), cfg.Worker.ProcessTimeout(), logger)

	resolver := services.NewPathResolver(cfg.Paths.StorageRoots...)
	metadata := services.NewMetadataReader(logger)
	lookupClient := &http.Client{Timeout: cfg.Lookup.Timeout()}
	var lookups []services.ArtworkLookup
	if cfg.Lookup.Enabled {
		lookups = append(lookups,
			services.NewArchiveLookup(cfg.Lookup.ArchiveURL, lookupClient),
			services.NewITunesLookup(cfg.Lookup.SearchURL, lookupClient, cfg.Lookup.MinScore, logger),
		)
	}

	var downloadOpts []services.DownloadOption
	if opts.progress != nil {
		downloadOpts = append(downloadOpts, services.WithProgress(opts.progress))
	}

	a.core = services.NewOrchestrator(services.OrchestratorDeps{
		Catalog:  catalog,
		Resolver: resolver,
		Covers: services.NewCoverPipeline(services.CoverPipelineConfig{
			CoverDir:   cfg.Paths.CoverDir,
			CoverNames: cfg.Paths.CoverNames,
			Resolver:   resolver,
			Store:      catalog,
			Extractor:  metadata,
			Lookups:    lookups,
			HTTPClient: lookupClient,
			Logger:     logger,
		}),
		Worker:     worker,
		Downloader: services.NewDownloader(cfg.Paths.MediaDir, logger, downloadOpts...),
		Metadata:   metadata,
		Queues: services.Queues{
			Analysis:   services.NewJobQueue(types.QueueAnalysis, cfg.Queues.Analysis, logger, events),
			Separation: services.NewJobQueue(types.QueueSeparation, cfg.Queues.Separation, logger, events),
			Lyrics:     services.NewJobQueue(types.QueueLyrics, cfg.Queues.Lyrics, logger, events),
		},
		StemsDir:  cfg.Paths.StemsDir,
		LyricsDir: cfg.Paths.LyricsDir,
		Events:    events,
		Logger:    logger,
	})

	if a.supervisor != nil {
		a.supervisor.OnStateChange(a.workerStateChanged)
	}
	return a, nil
}

// workerStateChanged forwards supervisor transitions to subscribers and
// picks up analysis left pending while the worker was unavailable.
func (a *app) workerStateChanged(status types.WorkerStatus) {
	if a.hub != nil {
		a.hub.Publish(types.EventMessage{
			Type:    types.EventWorkerState,
			Topic:   "worker",
			Status:  status.State,
			Message: status.LastError,
		})
	}
	if !a.resume || status.State != string(services.StateHealthy) {
		return
	}
	// Listeners run on the supervisor goroutine.
	a.resumes.Add(1)
	go func() {
		defer a.resumes.Done()
		if _, err := a.core.ResumePending(context.Background()); err != nil {
			a.logger.Warn("could not resume pending analysis", zap.Error(err))
		}
	}()
}

// start runs the hub and the worker supervisor when configured.
func (a *app) start(ctx context.Context) error {
	if a.hub != nil {
		go a.hub.Run()
	}
	if a.supervisor != nil {
		if err := a.supervisor.Start(ctx); err != nil {
			return fmt.Errorf("start worker supervisor: %w", err)
		}
	}
	return nil
}

// close drains the queues, stops the worker and closes the catalog.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.core.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.supervisor != nil {
		a.supervisor.Stop()
	}
	a.resumes.Wait()
	if a.hub != nil {
		a.hub.Stop()
	}
	if err := a.catalog.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close catalog: %w", err))
	}
	return errors.Join(errs...)
}

// workerStatus is nil when the worker is managed outside this process.
func (a *app) workerStatus() handlers.WorkerStatusSource {
	if a.supervisor == nil {
		return nil
	}
	return a.supervisor
}
