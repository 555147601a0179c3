package instance

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/ident"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime/runtimetest"
	"github.com/devghori1264/aerophoenix/vkd/internal/storage"
)

type harness struct {
	m      *Manager
	rt     *runtimetest.Fake
	store  storage.Store
	broker *events.Broker[events.Notification]
	sub    *events.Subscription[events.Notification]
	path   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, filepath.Join(t.TempDir(), "instances.json"), runtimetest.New(), Options{})
}

func newHarnessWith(t *testing.T, path string, rt runtime.Runtime, opts Options) *harness {
	t.Helper()
	store, err := storage.NewFileStore(path)
	require.NoError(t, err)
	h := newStoreHarness(t, store, rt, opts)
	h.path = path
	return h
}

func newStoreHarness(t *testing.T, store storage.Store, rt runtime.Runtime, opts Options) *harness {
	t.Helper()
	if opts.Image == "" {
		opts.Image = "volkanic/host:latest"
	}
	if opts.CallbackAddress == "" {
		opts.CallbackAddress = "http://host.docker.internal:8080"
	}

	broker := events.NewBroker[events.Notification]("notifications", 256)
	m, err := NewManager(context.Background(), store, rt, broker, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	t.Cleanup(m.Wait)

	h := &harness{m: m, store: store, broker: broker, sub: broker.Subscribe()}
	if f, ok := rt.(*runtimetest.Fake); ok {
		h.rt = f
	}
	return h
}

// drain returns every notification published so far.
func (h *harness) drain() []events.Notification {
	var out []events.Notification
	for {
		select {
		case n := <-h.sub.C():
			out = append(out, n)
		default:
			return out
		}
	}
}

func survival() models.Request {
	return models.Request{
		Name: "survival",
		Type: models.InstanceType{Volkanic: &models.Volkanic{Source: models.VolkanicSource{Base64: "aGVsbG8gd29ybGQ="}}},
	}
}

func (h *harness) create(t *testing.T) string {
	t.Helper()
	id, err := h.m.Create(context.Background(), survival())
	require.NoError(t, err)
	return id
}

func (h *harness) stored(t *testing.T, id string) (models.StoredRecord, bool) {
	t.Helper()
	all, err := h.store.LoadAll(context.Background())
	require.NoError(t, err)
	rec, ok := all[id]
	return rec, ok
}

func TestCreateScenario(t *testing.T) {
	h := newHarness(t)

	id := h.create(t)

	v, err := h.m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, v.Status)
	assert.Equal(t, "survival", v.Name)

	list := h.m.List()
	require.Contains(t, list, id)

	snap, err := h.m.Snapshot(id)
	require.NoError(t, err)
	assert.Len(t, snap.Token, ident.TokenLength)
	assert.Empty(t, snap.Container)

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), snap.Token)

	rec, ok := h.stored(t, id)
	require.True(t, ok)
	assert.Equal(t, snap.Token, rec.Token)

	ns := h.drain()
	require.Len(t, ns, 1)
	assert.Equal(t, events.KindModified, ns[0].Kind)
	assert.Equal(t, id, ns[0].ID)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Create(context.Background(), models.Request{Name: "no type"})
	assert.ErrorIs(t, err, models.ErrTypeRequired)
	assert.Empty(t, h.m.List())
}

// constReader yields the same byte forever, so every candidate collides with the first.
type constReader struct{}

func (constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x07
	}
	return len(p), nil
}

func TestCreateExhaustsUniqueIDs(t *testing.T) {
	h := newHarnessWith(t, filepath.Join(t.TempDir(), "instances.json"), runtimetest.New(), Options{
		IDs: ident.Generator{Rand: constReader{}},
	})

	_, err := h.m.Create(context.Background(), survival())
	require.NoError(t, err)

	_, err = h.m.Create(context.Background(), survival())
	assert.ErrorIs(t, err, ErrExhaustedUniqueIDs)
	assert.Len(t, h.m.List(), 1)
}

func TestIDsAndTokensUniqueAcrossCreates(t *testing.T) {
	h := newHarness(t)
	tokens := map[string]struct{}{}
	for range 50 {
		id := h.create(t)
		snap, err := h.m.Snapshot(id)
		require.NoError(t, err)
		tokens[snap.Token] = struct{}{}
	}
	assert.Len(t, h.m.List(), 50)
	assert.Len(t, tokens, 50)
}

func TestFindByTokenAndHeartbeat(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)
	snap, err := h.m.Snapshot(id)
	require.NoError(t, err)

	got, ok := h.m.FindByToken(snap.Token)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = h.m.FindByToken("not-a-token")
	assert.False(t, ok)
	_, ok = h.m.FindByToken("")
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.m.now = func() time.Time { return at }
	require.NoError(t, h.m.RecordHeartbeat(id))

	snap, err = h.m.Snapshot(id)
	require.NoError(t, err)
	require.NotNil(t, snap.LastContact)
	assert.Equal(t, at, *snap.LastContact)

	assert.ErrorIs(t, h.m.RecordHeartbeat("missing"), ErrNotFound)
}

func TestDefinition(t *testing.T) {
	h := newHarness(t)
	id := h.create(t)

	def, err := h.m.Definition(id)
	require.NoError(t, err)
	assert.Equal(t, "volkanic-construct", def.Type)
	assert.Equal(t, "aGVsbG8gd29ybGQ=", def.Base64)
	assert.NotEmpty(t, def.Digest)

	_, err = h.m.Definition("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReloadStartsInactiveAndKeepsHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	rt := runtimetest.New()
	h := newHarnessWith(t, path, rt, Options{})
	id := h.create(t)
	require.NoError(t, h.m.Start(context.Background(), id))
	h.m.Wait()

	before, err := h.m.Snapshot(id)
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, before.Status)

	reloaded := newHarnessWith(t, path, rt, Options{})
	after, err := reloaded.m.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, after.Status)
	assert.Equal(t, before.Container, after.Container)
	assert.Equal(t, before.Token, after.Token)

	require.NoError(t, NewReconciler(reloaded.m, ReconcilerOptions{}).Reconcile(context.Background()))
	v, err := reloaded.m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, v.Status)
}

func TestUnknownIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.m.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)

	assert.ErrorIs(t, h.m.Start(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, h.m.Stop(ctx, "missing"), ErrNotFound)
	assert.ErrorIs(t, h.m.Delete(ctx, "missing"), ErrNotFound)
	_, err = h.m.Commands("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.m.Snapshot("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
