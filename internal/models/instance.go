package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Instance is the registry-resident record of a managed unit of work.
// It is a plain value copy; the live, lock-guarded form lives in the instance registry.
type Instance struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        InstanceType `json:"type"`
	Status      Status       `json:"status"`
	Token       string       `json:"-"`
	LastContact *time.Time   `json:"last_contact,omitempty"`
	Container   string       `json:"-"`
}

// InstanceType is a tagged union of workload kinds. Exactly one variant is set.
type InstanceType struct {
	Volkanic *Volkanic `json:"volkanic,omitempty"`
}

// Volkanic identifies workload content by its construct source.
type Volkanic struct {
	Source VolkanicSource `json:"source"`
}

// VolkanicSource is either an inline base64 construct or a URL pointing at one.
type VolkanicSource struct {
	Base64 string `json:"base64,omitempty"`
	URL    string `json:"url,omitempty"`
}

var (
	ErrNameRequired     = errors.New("name required")
	ErrTypeRequired     = errors.New("instance type required")
	ErrInvalidSource    = errors.New("construct source must set exactly one of base64 or url")
	ErrInvalidConstruct = errors.New("construct is not valid base64")
)

// Validate checks that exactly one variant and exactly one source are set.
func (t InstanceType) Validate() error {
	if t.Volkanic == nil {
		return ErrTypeRequired
	}
	src := t.Volkanic.Source
	if (src.Base64 == "") == (src.URL == "") {
		return ErrInvalidSource
	}
	if src.Base64 != "" {
		if _, err := base64.StdEncoding.DecodeString(src.Base64); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConstruct, err)
		}
	}
	return nil
}

// Request is the client input for creating an instance.
type Request struct {
	Name string       `json:"name"`
	Type InstanceType `json:"type"`
}

func (r Request) Validate() error {
	if r.Name == "" {
		return ErrNameRequired
	}
	return r.Type.Validate()
}

// View is the public projection of an instance. Token and container handle are withheld.
type View struct {
	Name   string       `json:"name"`
	Type   InstanceType `json:"type"`
	Status Status       `json:"status"`
}

// StoredRecord is what gets persisted. Status is never stored.
type StoredRecord struct {
	Name      string       `json:"name"`
	Type      InstanceType `json:"type"`
	Token     string       `json:"host_com_token"`
	Container string       `json:"container,omitempty"`
}

// Phase is the lifecycle state of an instance.
type Phase string

const (
	PhaseInactive Phase = "inactive"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseDeleting Phase = "deleting"
	PhaseCreating Phase = "creating"
)

// Status is a Phase plus provisioning progress, which is only meaningful while creating.
type Status struct {
	Phase    Phase
	Progress uint8
}

var (
	StatusInactive = Status{Phase: PhaseInactive}
	StatusStarting = Status{Phase: PhaseStarting}
	StatusRunning  = Status{Phase: PhaseRunning}
	StatusStopping = Status{Phase: PhaseStopping}
	StatusDeleting = Status{Phase: PhaseDeleting}
)

// Creating returns the provisioning sub-state with progress clamped to 100.
func Creating(progress uint8) Status {
	if progress > 100 {
		progress = 100
	}
	return Status{Phase: PhaseCreating, Progress: progress}
}

func (s Status) String() string {
	if s.Phase == PhaseCreating {
		return fmt.Sprintf("creating(%d)", s.Progress)
	}
	return string(s.Phase)
}

// MarshalJSON encodes creating as {"creating": n} and every other phase as a bare string.
func (s Status) MarshalJSON() ([]byte, error) {
	if s.Phase == PhaseCreating {
		return json.Marshal(map[string]uint8{string(PhaseCreating): s.Progress})
	}
	return json.Marshal(string(s.Phase))
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var phase string
	if err := json.Unmarshal(b, &phase); err == nil {
		switch p := Phase(phase); p {
		case PhaseInactive, PhaseStarting, PhaseRunning, PhaseStopping, PhaseDeleting:
			*s = Status{Phase: p}
			return nil
		}
		return fmt.Errorf("unknown status %q", phase)
	}
	var creating map[string]uint8
	if err := json.Unmarshal(b, &creating); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	progress, ok := creating[string(PhaseCreating)]
	if !ok || len(creating) != 1 {
		return fmt.Errorf("unknown status %s", string(b))
	}
	*s = Creating(progress)
	return nil
}
