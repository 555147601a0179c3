package instance

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime"
)

// Start provisions the instance's container if needed and starts it. The
// work runs in the background; Start only validates and returns.
func (m *Manager) Start(ctx context.Context, id string) error {
	e, err := m.accept(id)
	if err != nil {
		return err
	}
	m.dispatch(ctx, "start", id, func(ctx context.Context) error {
		return m.start(ctx, id, e)
	})
	return nil
}

// Stop tells the workload to stop and marks the instance inactive. The work
// runs in the background.
func (m *Manager) Stop(ctx context.Context, id string) error {
	e, err := m.accept(id)
	if err != nil {
		return err
	}
	m.dispatch(ctx, "stop", id, func(ctx context.Context) error {
		return m.stop(ctx, id, e)
	})
	return nil
}

// Delete marks the instance deleting before returning, then removes its
// container, its record and finally the instance itself in the background.
func (m *Manager) Delete(ctx context.Context, id string) error {
	e, ok := m.registry.entry(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	claimed, err := m.registry.updateStatus(ctx, id, func(cur models.Status) (models.Status, bool) {
		return models.StatusDeleting, cur.Phase != models.PhaseDeleting
	})
	if err != nil {
		return err
	}
	if !claimed {
		return ErrDeleting
	}
	m.dispatch(ctx, "delete", id, func(ctx context.Context) error {
		return m.delete(ctx, id, e)
	})
	return nil
}

func (m *Manager) accept(id string) (*entry, error) {
	e, ok := m.registry.entry(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if e.status.get().Phase == models.PhaseDeleting {
		return nil, ErrDeleting
	}
	return e, nil
}

// dispatch runs task detached from the caller's cancellation. Failures are
// logged; the task itself is responsible for rolling status back.
func (m *Manager) dispatch(ctx context.Context, op, id string, task func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()

		ctx, span := tracer.Start(ctx, "instance."+op, trace.WithAttributes(attribute.String("instance.id", id)))
		defer span.End()

		if err := task(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			lifecycleOps.WithLabelValues(op, "error").Inc()
			m.log.Error("instance "+op+" failed", zap.String("instance", id), zap.Error(err))
			return
		}
		lifecycleOps.WithLabelValues(op, "ok").Inc()
		m.log.Info("instance "+op+" finished", zap.String("instance", id))
	}()
}

// rollback parks the instance in inactive after a failed task.
func (m *Manager) rollback(id string) {
	if err := m.registry.SetStatus(id, models.StatusInactive); err != nil {
		m.log.Warn("roll back status", zap.String("instance", id), zap.Error(err))
	}
}

func (m *Manager) start(ctx context.Context, id string, e *entry) (err error) {
	if err := m.registry.SetStatus(id, models.StatusStarting); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			m.rollback(id)
		}
	}()

	handle := e.container.get()
	if handle == "" {
		if handle, err = m.provision(ctx, id, e); err != nil {
			return err
		}
		if err := m.registry.SetStatus(id, models.StatusStarting); err != nil {
			return err
		}
	}

	if err := m.runtime.StartContainer(ctx, handle); err != nil {
		return &RuntimeError{Op: "start", Err: err}
	}
	insp, err := m.runtime.InspectContainer(ctx, handle)
	if err != nil {
		return &RuntimeError{Op: "inspect", Err: err}
	}
	switch {
	case !insp.Exists:
		return ErrContainerHandleMissing
	case insp.Running == nil:
		return ErrNoContainerState
	case !*insp.Running:
		return ErrContainerNotRunning
	}
	return m.registry.SetStatus(id, models.StatusRunning)
}

// provision creates the backing container and persists its handle.
func (m *Manager) provision(ctx context.Context, id string, e *entry) (string, error) {
	spec := runtime.ContainerSpec{
		Name:  "vkd-" + id,
		Image: m.opts.Image,
		Env: map[string]string{
			runtime.EnvHostToken:      e.token.get(),
			runtime.EnvControlAddress: m.opts.CallbackAddress,
			runtime.EnvInstanceID:     id,
		},
		Labels: map[string]string{runtime.LabelInstance: id},
		Progress: func(pct uint8) {
			_ = m.registry.SetStatus(id, models.Creating(pct))
		},
	}
	handle, err := m.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return "", &RuntimeError{Op: "create", Err: err}
	}
	e.container.set(handle)
	m.log.Info("container created", zap.String("instance", id), zap.String("container", handle))

	if err := m.persist(ctx, id, e); err != nil {
		return "", err
	}
	return handle, nil
}

func (m *Manager) stop(ctx context.Context, id string, e *entry) error {
	if _, err := m.registry.updateStatus(ctx, id, func(cur models.Status) (models.Status, bool) {
		return models.StatusStopping, cur.Phase != models.PhaseInactive
	}); err != nil {
		return err
	}

	// best effort; the workload shuts itself down
	e.commands.Publish(events.CommandStop)
	if m.opts.CommandRelay != nil {
		m.opts.CommandRelay(id, events.CommandStop)
	}

	if e.container.get() == "" {
		m.log.Warn("stop requested for an instance without a container", zap.String("instance", id))
	}
	return m.registry.SetStatus(id, models.StatusInactive)
}

func (m *Manager) delete(ctx context.Context, id string, e *entry) (err error) {
	defer func() {
		if err != nil {
			m.rollback(id)
		}
	}()

	if handle := e.container.get(); handle != "" {
		if err := m.removeContainer(ctx, handle); err != nil {
			return err
		}
	}
	if err := m.forget(ctx, id, e); err != nil {
		return err
	}
	m.registry.Remove(id)
	instancesGauge.Set(float64(m.registry.Len()))
	e.commands.Close()
	m.publish(events.Deleted(id))
	return nil
}

// forget deletes the stored record and marks the entry removed so no later
// persist can write it back. The handle is cleared only once the record is gone,
// so a failed delete leaves memory and store agreeing.
func (m *Manager) forget(ctx context.Context, id string, e *entry) error {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()
	if _, err := m.store.Delete(ctx, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	e.removed = true
	e.container.set("")
	return nil
}

func (m *Manager) removeContainer(ctx context.Context, handle string) error {
	insp, err := m.runtime.InspectContainer(ctx, handle)
	if err != nil {
		return &RuntimeError{Op: "inspect", Err: err}
	}
	if !insp.Exists {
		// already gone, nothing to remove
		return nil
	}
	if insp.Running == nil {
		return ErrNoContainerState
	}
	if *insp.Running {
		if err := m.runtime.StopContainer(ctx, handle); err != nil {
			return &RuntimeError{Op: "stop", Err: err}
		}
	}
	if err := m.runtime.RemoveContainer(ctx, handle); err != nil {
		return &RuntimeError{Op: "remove", Err: err}
	}
	return nil
}
