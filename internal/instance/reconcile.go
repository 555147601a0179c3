package instance

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

const (
	DefaultReconcileInterval = 750 * time.Millisecond
	DefaultLockTimeout       = 50 * time.Millisecond
)

// HealthReporter is told whether the last sweep could reach the runtime.
type HealthReporter interface {
	SetServing(serving bool)
}

// ReconcilerOptions configures a Reconciler. Zero values use the defaults.
type ReconcilerOptions struct {
	Interval    time.Duration
	LockTimeout time.Duration
	Health      HealthReporter
}

// Reconciler periodically corrects recorded status against what the runtime
// reports. It is the only component that clears stale container handles.
type Reconciler struct {
	m    *Manager
	log  *zap.Logger
	opts ReconcilerOptions
}

func NewReconciler(m *Manager, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReconcileInterval
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	return &Reconciler{m: m, log: m.log.Named("reconcile"), opts: opts}
}

// Run sweeps on every tick until ctx is done. Sweep errors are logged, never fatal.
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciliation loop started", zap.Duration("interval", r.opts.Interval))
	t := time.NewTicker(r.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciliation loop stopped")
			return nil
		case <-t.C:
			if err := r.Reconcile(ctx); err != nil {
				r.log.Warn("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// Reconcile performs one sweep.
func (r *Reconciler) Reconcile(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "instance.reconcile")
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		reconcileTicks.WithLabelValues(result).Inc()
		span.End()
	}()

	snap := r.m.registry.snapshot()
	handles := make(map[string]string, len(snap))
	for id, e := range snap {
		lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
		h, err := e.container.tryGet(lockCtx)
		cancel()
		if err != nil {
			reconcileSkipped.Inc()
			r.log.Debug("container field busy, skipping this sweep", zap.String("instance", id))
			continue
		}
		if h != "" {
			handles[id] = h
		}
	}
	span.SetAttributes(attribute.Int("instances", len(snap)), attribute.Int("with_container", len(handles)))
	if len(handles) == 0 {
		// nothing to list, but health still has to follow the runtime
		if err := r.m.runtime.Ping(ctx); err != nil {
			r.setServing(false)
			return &RuntimeError{Op: "ping", Err: err}
		}
		r.setServing(true)
		return nil
	}

	list, err := r.m.runtime.ListContainers(ctx)
	if err != nil {
		r.setServing(false)
		return &RuntimeError{Op: "list", Err: err}
	}
	r.setServing(true)
	present := make(map[string]struct{}, len(list))
	for _, h := range list {
		present[h] = struct{}{}
	}

	var errs []error
	for id, h := range handles {
		e := snap[id]
		if _, ok := present[h]; !ok {
			if err := r.clear(ctx, id, e, h); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		insp, err := r.m.runtime.InspectContainer(ctx, h)
		if err != nil {
			errs = append(errs, &RuntimeError{Op: "inspect", Err: err})
			continue
		}
		if !insp.Exists {
			// removed between list and inspect
			if err := r.clear(ctx, id, e, h); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if insp.Running == nil {
			errs = append(errs, ErrNoContainerState)
			continue
		}
		if err := r.correct(ctx, id, *insp.Running); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reconciler) correct(ctx context.Context, id string, running bool) error {
	var kind string
	changed, err := r.m.registry.updateStatus(ctx, id, func(cur models.Status) (models.Status, bool) {
		switch {
		case running && cur.Phase == models.PhaseInactive:
			kind = "running"
			return models.StatusRunning, true
		case !running && cur.Phase == models.PhaseRunning:
			kind = "inactive"
			return models.StatusInactive, true
		}
		return cur, false
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		reconcileCorrections.WithLabelValues(kind).Inc()
		r.log.Info("corrected instance status", zap.String("instance", id), zap.String("status", kind))
	}
	return nil
}

// clear drops a handle whose container no longer exists and persists that.
func (r *Reconciler) clear(ctx context.Context, id string, e *entry, handle string) error {
	lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
	defer cancel()
	if err := e.container.lock(lockCtx); err != nil {
		reconcileSkipped.Inc()
		return nil
	}
	if e.container.val != handle {
		// a lifecycle task replaced it meanwhile
		e.container.unlock()
		return nil
	}
	e.container.val = ""
	e.container.unlock()

	r.log.Info("container disappeared, clearing handle", zap.String("instance", id), zap.String("container", handle))
	reconcileCorrections.WithLabelValues("cleared").Inc()

	if _, err := r.m.registry.updateStatus(ctx, id, func(cur models.Status) (models.Status, bool) {
		return models.StatusInactive, cur.Phase != models.PhaseDeleting
	}); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if e.status.get().Phase == models.PhaseDeleting {
		// the delete task owns the record now
		return nil
	}
	return r.m.persist(ctx, id, e)
}

func (r *Reconciler) setServing(ok bool) {
	if r.opts.Health != nil {
		r.opts.Health.SetServing(ok)
	}
}
