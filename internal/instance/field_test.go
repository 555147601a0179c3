package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldGetWaitsForHolder(t *testing.T) {
	f := newField("a")
	require.NoError(t, f.lock(context.Background()))

	got := make(chan string, 1)
	go func() { got <- f.get() }()

	select {
	case <-got:
		t.Fatal("get returned while the field was held")
	case <-time.After(20 * time.Millisecond):
	}
	f.val = "b"
	f.unlock()
	assert.Equal(t, "b", <-got)

	f.set("c")
	v, err := f.tryGet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", v)
}
