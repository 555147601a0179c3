// Package runtimetest provides an in-memory Runtime for tests.
package runtimetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/devghori1264/aerophoenix/vkd/internal/runtime"
)

// Call records one invocation against the fake.
type Call struct {
	Op     string
	Handle string
}

type container struct {
	spec    runtime.ContainerSpec
	running bool
}

// Fake is a thread-safe scripted runtime. Use Fail to make an
// operation return an error.
type Fake struct {
	mu         sync.Mutex
	next       int
	containers map[string]*container
	calls      []Call
	fail       map[string]error
	noState    bool
}

var _ runtime.Runtime = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		containers: map[string]*container{},
		fail:       map[string]error{},
	}
}

// ErrInjected is a convenience error for Fail.
var ErrInjected = errors.New("injected runtime failure")

// Fail makes op ("create", "start", "stop", "remove", "inspect", "list", "ping") return err. A nil err clears it.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// OmitState makes inspect report no running state.
func (f *Fake) OmitState(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noState = v
}

func (f *Fake) record(op, handle string) error {
	f.calls = append(f.calls, Call{Op: op, Handle: handle})
	return f.fail[op]
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Ops returns just the operation names in call order.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Op)
	}
	return out
}

// Spec returns the spec a container was created from.
func (f *Fake) Spec(handle string) (runtime.ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	if !ok {
		return runtime.ContainerSpec{}, false
	}
	return c.spec, true
}

// Running reports whether the container exists and is running.
func (f *Fake) Running(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[handle]
	return ok && c.running
}

// Destroy removes a container out of band, as an operator would.
func (f *Fake) Destroy(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, handle)
}

// SetRunning flips a container's state out of band, e.g. a crash.
func (f *Fake) SetRunning(handle string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[handle]; ok {
		c.running = running
	}
}

// Add registers an existing container, e.g. one that survived a restart.
func (f *Fake) Add(handle string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[handle] = &container{running: running}
}

func (f *Fake) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	if err := f.record("create", ""); err != nil {
		f.mu.Unlock()
		return "", err
	}
	f.next++
	handle := fmt.Sprintf("ctr-%d", f.next)
	f.containers[handle] = &container{spec: spec}
	f.mu.Unlock()

	// progress callbacks may take registry locks; never call them under f.mu
	if spec.Progress != nil {
		spec.Progress(0)
		spec.Progress(100)
	}
	return handle, nil
}

func (f *Fake) StartContainer(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("start", handle); err != nil {
		return err
	}
	c, ok := f.containers[handle]
	if !ok {
		return fmt.Errorf("no such container: %s", handle)
	}
	c.running = true
	return nil
}

func (f *Fake) StopContainer(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("stop", handle); err != nil {
		return err
	}
	c, ok := f.containers[handle]
	if !ok {
		return fmt.Errorf("no such container: %s", handle)
	}
	c.running = false
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", handle); err != nil {
		return err
	}
	if _, ok := f.containers[handle]; !ok {
		return fmt.Errorf("no such container: %s", handle)
	}
	delete(f.containers, handle)
	return nil
}

func (f *Fake) InspectContainer(ctx context.Context, handle string) (runtime.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("inspect", handle); err != nil {
		return runtime.Inspection{}, err
	}
	c, ok := f.containers[handle]
	if !ok {
		return runtime.Inspection{}, nil
	}
	if f.noState {
		return runtime.Inspection{Exists: true}, nil
	}
	running := c.running
	return runtime.Inspection{Exists: true, Running: &running}, nil
}

func (f *Fake) ListContainers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list", ""); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(f.containers))
	for h := range f.containers {
		out = append(out, h)
	}
	slices.Sort(out)
	return out, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("ping", "")
}
