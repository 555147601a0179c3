package instance

import (
	"context"
	"crypto/subtle"
	"maps"
	"sync"
	"time"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
)

// Publisher receives every committed instance notification. Publish must not block.
type Publisher interface {
	Publish(n events.Notification)
}

// entry is the live form of an instance. Each attribute has its own lock so
// holding one instance's field never blocks the map or other instances.
type entry struct {
	name        *field[string]
	typ         *field[models.InstanceType]
	status      *field[models.Status]
	token       *field[string]
	container   *field[string]
	lastContact *field[time.Time]

	commands *events.Broker[events.Command]

	// recordMu orders store writes for this instance. Once removed is set
	// under it, nothing writes the record again.
	recordMu sync.Mutex
	removed  bool
}

func newEntry(rec models.StoredRecord, commandCapacity int) *entry {
	return &entry{
		name:        newField(rec.Name),
		typ:         newField(rec.Type),
		status:      newField(models.StatusInactive),
		token:       newField(rec.Token),
		container:   newField(rec.Container),
		lastContact: newField(time.Time{}),
		commands:    events.NewBroker[events.Command]("commands", commandCapacity),
	}
}

func (e *entry) view() models.View {
	return models.View{Name: e.name.get(), Type: e.typ.get(), Status: e.status.get()}
}

func (e *entry) record() models.StoredRecord {
	return models.StoredRecord{
		Name:      e.name.get(),
		Type:      e.typ.get(),
		Token:     e.token.get(),
		Container: e.container.get(),
	}
}

func (e *entry) instance(id string) models.Instance {
	inst := models.Instance{
		ID:        id,
		Name:      e.name.get(),
		Type:      e.typ.get(),
		Status:    e.status.get(),
		Token:     e.token.get(),
		Container: e.container.get(),
	}
	if t := e.lastContact.get(); !t.IsZero() {
		inst.LastContact = &t
	}
	return inst
}

// Registry is the authoritative in-memory map of live instances.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	pub     Publisher
}

func NewRegistry(pub Publisher) *Registry {
	return &Registry{entries: make(map[string]*entry), pub: pub}
}

// snapshot copies the current entry set so callers can work on instances
// without holding the map lock.
func (r *Registry) snapshot() map[string]*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.entries)
}

func (r *Registry) entry(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) List() map[string]models.View {
	snap := r.snapshot()
	out := make(map[string]models.View, len(snap))
	for id, e := range snap {
		out[id] = e.view()
	}
	return out
}

func (r *Registry) Get(id string) (models.View, bool) {
	e, ok := r.entry(id)
	if !ok {
		return models.View{}, false
	}
	return e.view(), true
}

func (r *Registry) Insert(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = e
}

// Remove reports whether id was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FindByToken scans every instance for token.
func (r *Registry) FindByToken(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	for id, e := range r.snapshot() {
		if subtle.ConstantTimeCompare([]byte(e.token.get()), []byte(token)) == 1 {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) hasID(id string) bool {
	_, ok := r.entry(id)
	return ok
}

func (r *Registry) hasToken(token string) bool {
	for _, e := range r.snapshot() {
		if e.token.get() == token {
			return true
		}
	}
	return false
}

// SetStatus is the only way status changes. Every call publishes the
// resulting view.
func (r *Registry) SetStatus(id string, s models.Status) error {
	_, err := r.updateStatus(context.Background(), id, func(models.Status) (models.Status, bool) {
		return s, true
	})
	return err
}

// updateStatus applies fn to the current status while holding the status
// lock. fn returns the next status and whether to commit it. The notification
// is published before the lock is released so notifications for one instance
// are ordered like the writes.
func (r *Registry) updateStatus(ctx context.Context, id string, fn func(models.Status) (models.Status, bool)) (bool, error) {
	e, ok := r.entry(id)
	if !ok {
		return false, &NotFoundError{ID: id}
	}
	if err := e.status.lock(ctx); err != nil {
		return false, err
	}
	defer e.status.unlock()

	next, commit := fn(e.status.val)
	if !commit {
		return false, nil
	}
	e.status.val = next
	if r.pub != nil {
		r.pub.Publish(events.Modified(id, models.View{
			Name:   e.name.get(),
			Type:   e.typ.get(),
			Status: next,
		}))
	}
	return true, nil
}
