package models

import (
	"encoding/base64"

	"github.com/opencontainers/go-digest"
)

// ConstructDefinition is what a workload fetches to learn what it should run.
type ConstructDefinition struct {
	Type   string        `json:"type"`
	Base64 string        `json:"base64,omitempty"`
	URL    string        `json:"url,omitempty"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// Definition projects an instance type into the host-facing construct definition.
// Inline constructs carry the sha256 digest of their decoded bytes so the
// workload can verify what it received.
func (t InstanceType) Definition() (ConstructDefinition, error) {
	if err := t.Validate(); err != nil {
		return ConstructDefinition{}, err
	}
	src := t.Volkanic.Source
	if src.URL != "" {
		return ConstructDefinition{Type: "volkanic-construct", URL: src.URL}, nil
	}
	raw, err := base64.StdEncoding.DecodeString(src.Base64)
	if err != nil {
		return ConstructDefinition{}, err
	}
	return ConstructDefinition{
		Type:   "volkanic-construct",
		Base64: src.Base64,
		Digest: digest.FromBytes(raw),
	}, nil
}
