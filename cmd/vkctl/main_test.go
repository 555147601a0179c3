package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/devghori1264/aerophoenix/vkd/internal/api"
	"github.com/devghori1264/aerophoenix/vkd/internal/events"
	"github.com/devghori1264/aerophoenix/vkd/internal/instance"
	"github.com/devghori1264/aerophoenix/vkd/internal/models"
	"github.com/devghori1264/aerophoenix/vkd/internal/runtime/runtimetest"
	"github.com/devghori1264/aerophoenix/vkd/internal/storage"
)

func daemon(t *testing.T) (*httptest.Server, *instance.Manager) {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "instances.json"))
	require.NoError(t, err)
	broker := events.NewBroker[events.Notification]("notifications", 16)
	log := zaptest.NewLogger(t)
	m, err := instance.NewManager(context.Background(), store, runtimetest.New(), broker, log, instance.Options{Image: "volkanic/host:latest"})
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewHTTPHandler(m, broker, log, api.Options{Version: "test"}))
	t.Cleanup(srv.Close)
	t.Cleanup(m.Wait)
	return srv, m
}

func vkctl(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateListGetDelete(t *testing.T) {
	srv, m := daemon(t)

	out, err := vkctl(t, srv.URL, "create", "--name", "survival", "--base64", "aGVsbG8gd29ybGQ=")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = vkctl(t, srv.URL, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "survival")
	assert.Contains(t, out, "inactive")

	out, err = vkctl(t, srv.URL, "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "survival"`)

	out, err = vkctl(t, srv.URL, "start", id)
	require.NoError(t, err)
	assert.Contains(t, out, "start accepted")
	m.Wait()
	v, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, v.Status)

	_, err = vkctl(t, srv.URL, "delete", id)
	require.NoError(t, err)
	m.Wait()
	assert.Empty(t, m.List())
}

func TestGetUnknownInstance(t *testing.T) {
	srv, _ := daemon(t)

	_, err := vkctl(t, srv.URL, "get", "missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestCreateValidatesLocally(t *testing.T) {
	srv, m := daemon(t)

	_, err := vkctl(t, srv.URL, "create", "--name", "empty")
	assert.ErrorIs(t, err, models.ErrInvalidSource)

	_, err = vkctl(t, srv.URL, "create", "--name", "x", "--base64", "aaaa", "--url", "https://example.com/c")
	assert.Error(t, err)
	assert.Empty(t, m.List())
}

func TestFormatNotification(t *testing.T) {
	view := models.View{Name: "survival", Status: models.StatusRunning}
	assert.Equal(t, "a\tsurvival\trunning", formatNotification(events.Modified("a", view)))
	assert.Equal(t, "a\tinstance-deleted", formatNotification(events.Deleted("a")))
}
