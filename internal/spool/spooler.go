package spool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"mailflow/internal/broker"
	"mailflow/internal/constants"
	"mailflow/internal/engine"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
)

// BuildFunc builds a fresh router, typically from the pipeline file.
type BuildFunc func() (*engine.Router, error)

// generation is a router together with the dispatches still using it.
type generation struct {
	router  *engine.Router
	running sync.WaitGroup
}

// Spooler pulls mails from the spool and dispatches them through the
// current router on a bounded pool of goroutines.
type Spooler struct {
	consumer broker.Consumer
	topic    string
	build    BuildFunc
	logger   logger.Logger

	pool *errgroup.Group

	// swap serialises acquiring a generation against replacing it, so that
	// a retired router is closed only after its last dispatch.
	swap    sync.RWMutex
	current atomic.Pointer[generation]
	reload  sync.Mutex
}

func NewSpooler(consumer broker.Consumer, topic string, router *engine.Router, build BuildFunc, workers int, log logger.Logger) *Spooler {
	if topic == "" {
		topic = constants.DefaultSpoolTopic
	}
	if workers <= 0 {
		workers = 1
	}

	pool := new(errgroup.Group)
	pool.SetLimit(workers)

	s := &Spooler{
		consumer: consumer,
		topic:    topic,
		build:    build,
		logger:   log,
		pool:     pool,
	}
	s.current.Store(&generation{router: router})
	metrics.SetActiveProcessors(len(router.ProcessorNames()))
	return s
}

// Router returns the router new dispatches use.
func (s *Spooler) Router() *engine.Router {
	return s.current.Load().router
}

// Run consumes the spool until ctx is cancelled.
func (s *Spooler) Run(ctx context.Context) error {
	s.logger.Infow("Spooler started", "topic", s.topic)
	err := s.consumer.Consume(ctx, s.topic, s.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle dispatches one spooled mail and returns once the dispatch is
// over. A returned error leaves the envelope unacknowledged.
func (s *Spooler) Handle(ctx context.Context, envelope models.Envelope) error {
	if envelope.Mail == nil {
		s.logger.WarnwCtx(ctx, "Spool envelope without mail ignored", "id", envelope.ID)
		return nil
	}
	if !envelope.Metadata.EnqueuedAt.IsZero() {
		metrics.ObserveSpoolWaitDuration(s.topic, time.Since(envelope.Metadata.EnqueuedAt))
	}

	result := make(chan error, 1)
	s.pool.Go(func() error {
		result <- s.Dispatch(ctx, envelope.Mail)
		return nil
	})
	return <-result
}

// Dispatch runs the mail through the current router. Refusals other than
// a concurrent dispatch of the same mail are logged and swallowed; they
// would be refused again on redelivery.
func (s *Spooler) Dispatch(ctx context.Context, mail *models.Mail) error {
	gen := s.acquire()
	defer gen.running.Done()

	err := gen.router.Dispatch(ctx, mail)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, engine.ErrInFlight):
		return err
	case apperrors.IsRejected(err) || apperrors.IsValidation(err):
		s.logger.WarnwCtx(ctx, "Spooled mail refused", "mail_id", mail.ID, "error", apperrors.Message(err))
		return nil
	default:
		return err
	}
}

func (s *Spooler) acquire() *generation {
	s.swap.RLock()
	defer s.swap.RUnlock()
	gen := s.current.Load()
	gen.running.Add(1)
	return gen
}

// Reload builds a new router and makes it current. Dispatches already
// running finish on the old router, which is closed once they are done.
// On error the current router stays in place.
func (s *Spooler) Reload(ctx context.Context) error {
	s.reload.Lock()
	defer s.reload.Unlock()

	if s.build == nil {
		return apperrors.ErrConfig.WithDetail("message", "pipeline reload is not configured")
	}

	router, err := s.build()
	if err != nil {
		metrics.IncConfigError("reload")
		s.logger.ErrorwCtx(ctx, "Pipeline reload failed, keeping current pipeline", "error", err)
		return err
	}

	s.swap.Lock()
	old := s.current.Swap(&generation{router: router})
	s.swap.Unlock()

	metrics.SetActiveProcessors(len(router.ProcessorNames()))
	s.logger.InfowCtx(ctx, "Pipeline reloaded", "processors", router.ProcessorNames())

	go s.retire(old)
	return nil
}

func (s *Spooler) retire(gen *generation) {
	gen.running.Wait()
	if err := gen.router.Close(); err != nil {
		s.logger.Errorw("Failed to close retired pipeline", "error", err)
	}
}

// Close waits for running dispatches and releases the current router.
func (s *Spooler) Close() error {
	if err := s.pool.Wait(); err != nil {
		return err
	}
	gen := s.current.Load()
	gen.running.Wait()
	if err := gen.router.Close(); err != nil {
		return fmt.Errorf("failed to close pipeline: %w", err)
	}
	return nil
}
