// Package core wires the entity layer to a concrete data context and carries
// the deployment's ambient concerns: logging, metrics, tracing, and the audit
// trail. Entity semantics live in pkg/entity; this package only instruments
// and sequences them.
package core

import (
	"context"
	"fmt"
	"time"

	"entitycore/pkg/backend"
	"entitycore/pkg/entity"
	"entitycore/pkg/rules"
)

// Service exposes the entity lifecycle over one data context.
type Service struct {
	registry *entity.Registry
	engine   *rules.Engine
	ctx      backend.DataContext

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
}

// Option customizes a Service at construction.
type Option func(*Service)

// WithLogger installs a logger; the default discards everything.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAudit installs an audit recorder for saves and deletes.
func WithAudit(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// NewService constructs a service over the given data context, definition
// registry, and rule engine.
func NewService(dc backend.DataContext, registry *entity.Registry, engine *rules.Engine, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		engine:   engine,
		ctx:      dc,
		logger:   NopLogger{},
		metrics:  nopMetrics{},
		tracer:   nopTracer{},
		audit:    nopAudit{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the definition registry.
func (s *Service) Registry() *entity.Registry { return s.registry }

// Engine returns the rule engine shared by all entities.
func (s *Service) Engine() *rules.Engine { return s.engine }

// DataContext returns the underlying data context.
func (s *Service) DataContext() backend.DataContext { return s.ctx }

// InstallPack registers a rule pack's bindings into the shared engine.
func (s *Service) InstallPack(pack *rules.Pack) {
	pack.Install(s.engine)
	s.logger.Info("rule pack installed", "pack", pack.Name())
}

func (s *Service) instrument(ctx context.Context, op string, fn func() error) error {
	_, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn()
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	return err
}

func (s *Service) definition(name string) (*entity.Definition, error) {
	def, ok := s.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("core: no definition registered for %q", name)
	}
	return def, nil
}

// New creates a fresh entity of the named type with its key allocated.
func (s *Service) New(ctx context.Context, name string) (*entity.Entity, error) {
	var e *entity.Entity
	err := s.instrument(ctx, "entity.new", func() error {
		def, err := s.definition(name)
		if err != nil {
			return err
		}
		e, err = entity.New(def, s.engine, s.ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("entity created", "entity", name)
	return e, nil
}

// Load materializes the named entity by primary key.
func (s *Service) Load(ctx context.Context, name string, key any) (*entity.Entity, error) {
	var e *entity.Entity
	err := s.instrument(ctx, "entity.load", func() error {
		def, err := s.definition(name)
		if err != nil {
			return err
		}
		e, err = entity.Load(def, s.engine, s.ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("entity loaded", "entity", name, "key", key)
	return e, nil
}

// Verify reruns the entity's rule set and returns the ledger entry count.
func (s *Service) Verify(ctx context.Context, e *entity.Entity) (int, error) {
	var count int
	err := s.instrument(ctx, "entity.verify", func() error {
		var err error
		count, err = e.Verify()
		return err
	})
	return count, err
}

// Save runs the transactional save protocol and records the outcome in the
// audit trail.
func (s *Service) Save(ctx context.Context, e *entity.Entity) (entity.Outcome, error) {
	outcome := entity.OutcomeRejected
	err := s.instrument(ctx, "entity.save", func() error {
		var err error
		outcome, err = e.Save()
		return err
	})
	key, _ := e.Key()
	s.audit.Record(ctx, AuditEntry{
		Operation: "save",
		Entity:    e.Definition().Name,
		Key:       key,
		Outcome:   string(outcome),
		At:        time.Now().UTC(),
	})
	switch outcome {
	case entity.OutcomeSaved:
		s.logger.Info("entity saved", "entity", e.Definition().Name, "key", key)
	case entity.OutcomeRejected:
		s.logger.Warn("save rejected", "entity", e.Definition().Name, "key", key, "violations", e.Ledger().ViolationCount())
	case entity.OutcomeAborted:
		s.logger.Error("save aborted", "entity", e.Definition().Name, "key", key, "error", err)
	}
	return outcome, err
}

// SaveAll persists several entities in one shared transaction,
// all-or-nothing.
func (s *Service) SaveAll(ctx context.Context, entities ...*entity.Entity) (entity.Outcome, error) {
	outcome := entity.OutcomeRejected
	err := s.instrument(ctx, "entity.save_atomic", func() error {
		var err error
		outcome, err = entity.AtomicSave(entities...)
		return err
	})
	for _, e := range entities {
		key, _ := e.Key()
		s.audit.Record(ctx, AuditEntry{
			Operation: "save_atomic",
			Entity:    e.Definition().Name,
			Key:       key,
			Outcome:   string(outcome),
			At:        time.Now().UTC(),
		})
	}
	if outcome == entity.OutcomeSaved {
		s.logger.Info("atomic batch saved", "entities", len(entities))
	} else {
		s.logger.Warn("atomic batch not saved", "entities", len(entities), "outcome", string(outcome), "error", err)
	}
	return outcome, err
}

// VerifyForDeletion reruns the deletion rule set and walks the dependency
// graph, reporting whether deletion is blocked.
func (s *Service) VerifyForDeletion(ctx context.Context, e *entity.Entity, level entity.VerifyLevel) (bool, error) {
	var blocked bool
	err := s.instrument(ctx, "entity.verify_deletion", func() error {
		var err error
		blocked, err = e.VerifyForDeletion(level)
		return err
	})
	return blocked, err
}

// Delete physically removes the entity after deletion verification and
// records the outcome in the audit trail.
func (s *Service) Delete(ctx context.Context, e *entity.Entity) (bool, error) {
	key, _ := e.Key()
	var deleted bool
	err := s.instrument(ctx, "entity.delete", func() error {
		var err error
		deleted, err = e.Delete()
		return err
	})
	outcome := "blocked"
	if deleted {
		outcome = "deleted"
	}
	if err != nil {
		outcome = "failed"
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: "delete",
		Entity:    e.Definition().Name,
		Key:       key,
		Outcome:   outcome,
		At:        time.Now().UTC(),
	})
	if deleted {
		s.logger.Info("entity deleted", "entity", e.Definition().Name, "key", key)
	} else {
		s.logger.Warn("entity not deleted", "entity", e.Definition().Name, "key", key, "outcome", outcome)
	}
	return deleted, err
}
