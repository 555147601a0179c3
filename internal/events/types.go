package events

import "github.com/devghori1264/aerophoenix/vkd/internal/models"

// Kind names a notification.
type Kind string

const (
	KindModified Kind = "instance-modified"
	KindDeleted  Kind = "instance-deleted"
)

// Notification reports a committed change to one instance.
type Notification struct {
	Kind     Kind         `json:"kind"`
	ID       string       `json:"id"`
	Instance *models.View `json:"instance,omitempty"`
}

func Modified(id string, view models.View) Notification {
	return Notification{Kind: KindModified, ID: id, Instance: &view}
}

func Deleted(id string) Notification {
	return Notification{Kind: KindDeleted, ID: id}
}

// Command is pushed to the workload running inside an instance's container.
type Command string

const CommandStop Command = "stop"

// DefaultCapacity matches the per-subscriber backlog of the global channel.
const DefaultCapacity = 4096
