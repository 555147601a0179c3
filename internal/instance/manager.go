// Package instance owns the instance registry, the lifecycle state machine
// and the reconciliation loop that keeps recorded status in line with the
// container runtime.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/ident"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime"
	"github.com/devghori1264/aerophoenix/vkd/internal/storage"
)

// Options configures a Manager.
type Options struct {
	// Image is the container image every instance runs.
	Image string
	// CallbackAddress is handed to workloads so they can reach the control plane.
	CallbackAddress string
	// CommandCapacity bounds each instance's command backlog per subscriber.
	CommandCapacity int
	// CommandRelay, when set, also receives every workload command.
	CommandRelay func(id string, cmd events.Command)
	// IDs overrides the randomness used for ids and tokens.
	IDs ident.Generator
}

// Manager is the surface the HTTP layer talks to.
type Manager struct {
	registry *Registry
	store    storage.Store
	runtime  runtime.Runtime
	pub      Publisher
	log      *zap.Logger
	opts     Options

	// serializes id/token generation with insertion so uniqueness holds
	createMu sync.Mutex
	tasks    sync.WaitGroup
	now      func() time.Time
}

// NewManager loads every stored instance. Loaded instances start inactive
// and keep their container handle so reconciliation can find the container.
func NewManager(ctx context.Context, store storage.Store, rt runtime.Runtime, pub Publisher, log *zap.Logger, opts Options) (*Manager, error) {
	m := &Manager{
		registry: NewRegistry(pub),
		store:    store,
		runtime:  rt,
		pub:      pub,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}

	log.Info("loading instances from storage")
	records, err := store.LoadAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "load", Err: err}
	}
	for id, rec := range records {
		m.registry.Insert(id, newEntry(rec, opts.CommandCapacity))
		log.Info("loaded instance from storage", zap.String("instance", id))
	}
	instancesGauge.Set(float64(m.registry.Len()))
	return m, nil
}

// Registry exposes the underlying registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// List returns the public view of every instance.
func (m *Manager) List() map[string]models.View {
	return m.registry.List()
}

// Get returns the public view of one instance.
func (m *Manager) Get(id string) (models.View, error) {
	v, ok := m.registry.Get(id)
	if !ok {
		return models.View{}, &NotFoundError{ID: id}
	}
	return v, nil
}

// Snapshot returns the full internal record of one instance, token and
// container handle included. It is not meant for public responses.
func (m *Manager) Snapshot(id string) (models.Instance, error) {
	e, ok := m.registry.entry(id)
	if !ok {
		return models.Instance{}, &NotFoundError{ID: id}
	}
	return e.instance(id), nil
}

// Create registers a new inactive instance and persists it. It returns the new id.
func (m *Manager) Create(ctx context.Context, req models.Request) (string, error) {
	ctx, span := tracer.Start(ctx, "instance.create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return "", err
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	id, err := m.opts.IDs.NewUniqueID(m.registry.hasID)
	if err != nil {
		m.logExhausted("id", err)
		lifecycleOps.WithLabelValues("create", "error").Inc()
		return "", err
	}
	token, err := m.opts.IDs.NewUniqueToken(m.registry.hasToken)
	if err != nil {
		m.logExhausted("token", err)
		lifecycleOps.WithLabelValues("create", "error").Inc()
		return "", err
	}

	rec := models.StoredRecord{Name: req.Name, Type: req.Type, Token: token}
	if err := m.store.Upsert(ctx, id, rec); err != nil {
		lifecycleOps.WithLabelValues("create", "error").Inc()
		return "", &StoreError{Op: "upsert", Err: err}
	}

	e := newEntry(rec, m.opts.CommandCapacity)
	m.registry.Insert(id, e)
	instancesGauge.Set(float64(m.registry.Len()))
	m.publish(events.Modified(id, e.view()))

	lifecycleOps.WithLabelValues("create", "ok").Inc()
	m.log.Info("instance created", zap.String("instance", id), zap.String("name", req.Name))
	return id, nil
}

func (m *Manager) logExhausted(what string, err error) {
	if errors.Is(err, ident.ErrExhaustedUniqueIDs) {
		m.log.Error("unable to generate a unique "+what+"; either the instance count is astronomical or the randomness source is broken",
			zap.Int("attempts", ident.MaxAttempts), zap.Error(err))
		return
	}
	m.log.Error("generate "+what, zap.Error(err))
}

// FindByToken resolves a workload token to its instance id.
func (m *Manager) FindByToken(token string) (string, bool) {
	return m.registry.FindByToken(token)
}

// RecordHeartbeat stamps the instance's last contact time.
func (m *Manager) RecordHeartbeat(id string) error {
	e, ok := m.registry.entry(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	e.lastContact.set(m.now().UTC())
	return nil
}

// Commands returns the command broker workloads subscribe to.
func (m *Manager) Commands(id string) (*events.Broker[events.Command], error) {
	e, ok := m.registry.entry(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return e.commands, nil
}

// Definition returns what the instance's workload should run.
func (m *Manager) Definition(id string) (models.ConstructDefinition, error) {
	e, ok := m.registry.entry(id)
	if !ok {
		return models.ConstructDefinition{}, &NotFoundError{ID: id}
	}
	def, err := e.typ.get().Definition()
	if err != nil {
		return models.ConstructDefinition{}, fmt.Errorf("definition of %s: %w", id, err)
	}
	return def, nil
}

// Wait blocks until every dispatched lifecycle task has finished.
func (m *Manager) Wait() {
	m.tasks.Wait()
}

func (m *Manager) publish(n events.Notification) {
	if m.pub != nil {
		m.pub.Publish(n)
	}
}

// persist writes the entry's record unless the instance has been deleted.
func (m *Manager) persist(ctx context.Context, id string, e *entry) error {
	e.recordMu.Lock()
	defer e.recordMu.Unlock()
	if e.removed {
		return nil
	}
	if err := m.store.Upsert(ctx, id, e.record()); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}
