package bootstrap

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"mail_worker/adapter/in/worker"
	"mail_worker/config"
	"mail_worker/internal/stream"
	"mail_worker/pkg/logger"
)

// Worker is the ingestion process: the IDLE supervisor, the poll scheduler
// and the stream consumers.
type Worker struct {
	deps       *Dependencies
	supervisor *worker.Supervisor
	scheduler  *worker.Scheduler
	consumer   *stream.Consumer
	events     *stream.EventConsumer

	ctx    context.Context
	cancel context.CancelFunc
	zlog   zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "mail-worker",
	})

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	scheduler := worker.NewScheduler(deps.Producer, cfg.PollInterval, zlog)
	supervisor := worker.NewSupervisor(
		deps.UserRegistry,
		deps.AccountRepo,
		deps.IngestService,
		scheduler,
		worker.WorkerConfig{
			Session: worker.SessionConfig{
				ReconnectDelay: cfg.ReconnectDelay,
				MaxReconnects:  cfg.ReconnectMaxAttempts,
			},
			TokenRefreshInterval: cfg.TokenRefreshInterval,
		},
		zlog,
	)

	handler := worker.NewHandler(worker.NewPollProcessor(deps.IngestService))
	consumer := stream.NewConsumer(deps.Stream, handler, cfg.WorkerID)
	events := stream.NewEventConsumer(deps.Stream, cfg.WorkerID, supervisor.HandleEvent)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:       deps,
		supervisor: supervisor,
		scheduler:  scheduler,
		consumer:   consumer,
		events:     events,
		ctx:        ctx,
		cancel:     cancel,
		zlog:       zlog,
	}
	return w, cleanup, nil
}

// Start boots the fleet and blocks until Stop is called.
func (w *Worker) Start() {
	if err := w.supervisor.Start(w.ctx); err != nil {
		w.zlog.Error().Err(err).Msg("supervisor failed to start")
		return
	}
	w.consumer.Start(w.ctx)
	w.events.Start(w.ctx)
	w.zlog.Info().Msg("worker started")

	<-w.ctx.Done()
}

// Stop drains the fleet; every IMAP connection is logged out before return.
func (w *Worker) Stop() {
	w.cancel()
	w.supervisor.Shutdown()
	w.zlog.Info().Msg("worker stopped")
}
