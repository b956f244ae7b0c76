package engine

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"mailflow/internal/constants"
	"mailflow/internal/logger"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/logging"
	"mailflow/pkg/metrics"
	"mailflow/pkg/models"
	"mailflow/pkg/tracing"
)

var (
	ErrAlreadyGhost = apperrors.ErrRejected.WithDetail("message", "mail is already ghosted and cannot be dispatched again")
	ErrInFlight     = apperrors.ErrRejected.WithDetail("message", "mail is already being dispatched")
	ErrInvalidMail  = apperrors.ErrValidation.WithDetail("message", "mail has no id")
)

// Router maps states to processors and drives a mail from processor to
// processor until it is ghosted. A router is immutable once built and is
// shared by every dispatching goroutine.
type Router struct {
	processors map[string]*Processor
	order      []string
	maxVisits  int
	logger     logger.Logger
	closers    []io.Closer

	inFlight sync.Map
}

type RouterOption func(*Router)

// WithMaxVisits bounds the processor visits of a single dispatch.
func WithMaxVisits(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxVisits = n
		}
	}
}

func WithLogger(log logger.Logger) RouterOption {
	return func(r *Router) {
		if log != nil {
			r.logger = log
		}
	}
}

func withClosers(closers []io.Closer) RouterOption {
	return func(r *Router) {
		r.closers = closers
	}
}

func NewRouter(processors []*Processor, opts ...RouterOption) (*Router, error) {
	r := &Router{
		processors: make(map[string]*Processor, len(processors)),
		order:      make([]string, 0, len(processors)),
		logger:     logger.NopLogger(),
	}

	for _, p := range processors {
		if p.Name() == constants.StateGhost {
			return nil, configError(p.Name(), "%q is reserved and cannot name a processor", constants.StateGhost)
		}
		if _, dup := r.processors[p.Name()]; dup {
			return nil, configError(p.Name(), "duplicate processor name %q", p.Name())
		}
		r.processors[p.Name()] = p
		r.order = append(r.order, p.Name())
	}

	if _, ok := r.processors[constants.StateRoot]; !ok {
		return nil, configError("", "a %q processor is required", constants.StateRoot)
	}

	// A mail that never loops visits each processor at most once.
	r.maxVisits = len(processors)
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Dispatch runs the mail through processors until its state is ghost.
// Only refusals (already ghosted, already in flight, no id) and context
// cancellation are returned; all processing failures end up in the mail.
func (r *Router) Dispatch(ctx context.Context, mail *models.Mail) error {
	if mail.ID == "" {
		metrics.IncMailsDispatched(constants.OutcomeRejected)
		return ErrInvalidMail
	}
	if mail.State == constants.StateGhost {
		metrics.IncMailsDispatched(constants.OutcomeRejected)
		return ErrAlreadyGhost
	}
	if _, busy := r.inFlight.LoadOrStore(mail.ID, struct{}{}); busy {
		metrics.IncMailsDispatched(constants.OutcomeRejected)
		return ErrInFlight
	}
	defer r.inFlight.Delete(mail.ID)

	metrics.MailsInFlight.Inc()
	defer metrics.MailsInFlight.Dec()

	if mail.State == "" {
		mail.State = constants.StateRoot
	}
	if mail.Recipients == nil {
		mail.Recipients = []models.Address{}
	}

	ctx = logging.WithMailID(ctx, mail.ID)
	start := time.Now()

	if err := r.route(ctx, mail); err != nil {
		r.logger.WarnwCtx(ctx, "Dispatch abandoned", "state", mail.State, "error", err)
		metrics.IncMailsDispatched(constants.OutcomeCancelled)
		metrics.ObserveDispatchDuration(time.Since(start), constants.OutcomeCancelled)
		return err
	}

	metrics.IncMailsDispatched(constants.OutcomeGhost)
	metrics.ObserveDispatchDuration(time.Since(start), constants.OutcomeGhost)
	r.logger.DebugwCtx(ctx, "Mail reached terminal state", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Router) route(ctx context.Context, mail *models.Mail) error {
	visits := 0
	errorForced := false

	for mail.State != constants.StateGhost {
		if err := ctx.Err(); err != nil {
			return err
		}

		proc, ok := r.processors[mail.State]
		if !ok {
			if !r.forceError(ctx, mail, errorForced) {
				return nil
			}
			errorForced = true
			continue
		}

		if visits >= r.maxVisits {
			r.logger.WarnwCtx(ctx, "Mail exceeded processor visit bound, ghosting it",
				"state", mail.State,
				"max_visits", r.maxVisits,
			)
			metrics.RoutingLoopsTotal.Inc()
			mail.SetState(constants.StateGhost)
			return nil
		}

		visits++
		if err := r.visit(ctx, proc, mail); err != nil {
			return err
		}
	}

	return nil
}

// forceError moves a mail in an unknown state to the error processor. It
// ghosts the mail and returns false when that is impossible: the error
// processor is missing, or it already had its one chance.
func (r *Router) forceError(ctx context.Context, mail *models.Mail, errorForced bool) bool {
	_, hasError := r.processors[constants.StateError]

	switch {
	case hasError && !errorForced:
		r.logger.ErrorwCtx(ctx, "Mail routed to unknown processor, moving it to error processor",
			"state", mail.State,
			"error_code", apperrors.CodeRouting,
		)
		metrics.IncConfigError("unknown_processor")
		mail.ErrorMessage = fmt.Sprintf("unknown processor %q", mail.State)
		mail.SetState(constants.StateError)
		return true
	case hasError:
		r.logger.ErrorwCtx(ctx, "Error processor routed mail to unknown processor, ghosting mail",
			"state", mail.State,
			"error_code", apperrors.CodeRouting,
			"error_message", mail.ErrorMessage,
		)
		metrics.IncConfigError("error_processor_misrouted")
	default:
		if mail.State != constants.StateError {
			mail.ErrorMessage = fmt.Sprintf("unknown processor %q", mail.State)
		}
		r.logger.ErrorwCtx(ctx, "No error processor configured, ghosting mail",
			"state", mail.State,
			"error_code", apperrors.CodeRouting,
			"error_message", mail.ErrorMessage,
		)
		metrics.IncConfigError("missing_error_processor")
	}
	mail.SetState(constants.StateGhost)
	return false
}

func (r *Router) visit(ctx context.Context, proc *Processor, mail *models.Mail) (err error) {
	ctx = logging.WithProcessor(ctx, proc.Name())
	ctx, span := tracing.StartProcessorSpan(ctx, proc.Name(), mail.ID, len(mail.Recipients))
	defer span.End()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			perr := apperrors.RecoverPanic(rec)
			r.logger.ErrorwCtx(ctx, "Processor panicked", "error", perr)
			if proc.Name() == constants.StateError {
				mail.SetState(constants.StateGhost)
			} else {
				mail.ErrorMessage = apperrors.Message(perr)
				mail.SetState(constants.StateError)
			}
			err = nil
		}
		metrics.ObserveProcessorVisit(proc.Name(), time.Since(start))
	}()

	return proc.Service(ctx, mail)
}

func (r *Router) Processor(name string) (*Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

func (r *Router) ProcessorNames() []string {
	return append([]string(nil), r.order...)
}

func (r *Router) MaxVisits() int {
	return r.maxVisits
}

type ProcessorInfo struct {
	Name  string     `json:"name"`
	Rules []RuleInfo `json:"rules"`
}

func (r *Router) Processors() []ProcessorInfo {
	infos := make([]ProcessorInfo, 0, len(r.order))
	for _, name := range r.order {
		p := r.processors[name]
		rules := make([]RuleInfo, 0, len(p.rules))
		for _, rule := range p.rules {
			rules = append(rules, rule.Info())
		}
		infos = append(infos, ProcessorInfo{Name: name, Rules: rules})
	}
	return infos
}

// InFlight returns the ids currently being dispatched, sorted.
func (r *Router) InFlight() []string {
	var ids []string
	r.inFlight.Range(func(key, _ interface{}) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Close releases mailets and matchers holding resources. The router must
// not be used afterwards.
func (r *Router) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
