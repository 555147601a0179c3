// Package runtime is the contract between the control plane and the
// container engine that backs instances.
package runtime

import "context"

// ContainerSpec describes a container to provision.
type ContainerSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	// Progress, when set, receives provisioning progress from 0 to 100.
	Progress func(pct uint8)
}

// Inspection is the observed state of one container.
type Inspection struct {
	Exists bool
	// Running is nil when the engine reported no state for the container.
	Running *bool
}

// Runtime is a single container engine endpoint. Handles are opaque engine ids.
type Runtime interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, handle string) error
	StopContainer(ctx context.Context, handle string) error
	RemoveContainer(ctx context.Context, handle string) error
	InspectContainer(ctx context.Context, handle string) (Inspection, error)
	ListContainers(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Env keys handed to every workload so it can call back into the control plane.
const (
	EnvHostToken      = "VK_HOST_TOKEN"
	EnvControlAddress = "VK_CONTROL_ADDRESS"
	EnvInstanceID     = "VK_INSTANCE_ID"

	// LabelInstance marks containers owned by the control plane.
	LabelInstance = "vkd.instance"
)

func report(spec ContainerSpec, pct uint8) {
	if spec.Progress != nil {
		spec.Progress(pct)
	}
}
