// Package state defines the flattened desired-state and current-state
// models consumed by the reconciliation engine. Values are produced by
// external loaders, validated once at this boundary, and treated as
// immutable inputs for the rest of a run.
package state

import (
	"encoding/json"
	"fmt"
)

// AccessLevel is the declared access a consumer has on a volume.
type AccessLevel string

const (
	// AccessRead grants read-only access.
	AccessRead AccessLevel = "read"

	// AccessWrite grants read-write access.
	AccessWrite AccessLevel = "write"

	// AccessNone declares the consumer without granting access.
	AccessNone AccessLevel = "none"
)

// Validate checks if the access level is valid.
func (a AccessLevel) Validate() error {
	switch a {
	case AccessRead, AccessWrite, AccessNone:
		return nil
	default:
		return fmt.Errorf("invalid access level: %s", a)
	}
}

// UnmarshalJSON implements JSON unmarshaling with validation.
func (a *AccessLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*a = AccessLevel(str)
	return a.Validate()
}

// Protocol is the network-share protocol of a ShareSpec.
type Protocol string

const (
	// ProtocolSMB is an SMB/CIFS share.
	ProtocolSMB Protocol = "smb"

	// ProtocolNFS is an NFS export.
	ProtocolNFS Protocol = "nfs"
)

// Validate checks if the protocol is valid.
func (p Protocol) Validate() error {
	switch p {
	case ProtocolSMB, ProtocolNFS:
		return nil
	default:
		return fmt.Errorf("invalid share protocol: %s", p)
	}
}

// UnmarshalJSON implements JSON unmarshaling with validation.
func (p *Protocol) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*p = Protocol(str)
	return p.Validate()
}

// Attachment declares a volume mount into a container.
type Attachment struct {
	// MountPath is the path inside the container.
	MountPath string `json:"mount_path" validate:"required"`

	// Access is the requested access level for the mount.
	Access AccessLevel `json:"access" validate:"required"`
}

// ContainerSpec declares a container that consumes a volume. At least one
// of ID or Name must be set.
type ContainerSpec struct {
	// ID is the numeric container id, 0 if not yet assigned.
	ID int `json:"id,omitempty" validate:"min=0"`

	// Name is the container name.
	Name string `json:"name,omitempty"`

	// Template is the template/image reference used when creating the
	// container.
	Template string `json:"template,omitempty"`

	// Limits are resource limits passed through to the compute subsystem.
	Limits map[string]string `json:"limits,omitempty"`

	// Attachment is the declared mount of the owning volume.
	Attachment Attachment `json:"attachment" validate:"required"`

	// AutoCreate creates the container if it does not exist. When false,
	// a missing container is reported, not created.
	AutoCreate bool `json:"auto_create,omitempty"`
}

// Identity returns a stable display identity for the container.
func (c *ContainerSpec) Identity() string {
	if c.Name != "" && c.ID > 0 {
		return fmt.Sprintf("%s (%d)", c.Name, c.ID)
	}
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%d", c.ID)
}

// ShareSpec declares a network share backed by a volume.
type ShareSpec struct {
	// Protocol is the share protocol (smb or nfs).
	Protocol Protocol `json:"protocol" validate:"required"`

	// Name is the share name.
	Name string `json:"name" validate:"required"`

	// Access is the declared access level for share clients.
	Access AccessLevel `json:"access" validate:"required"`
}

// VolumeSpec declares a single volume and its consumers.
type VolumeSpec struct {
	// Pool is the storage pool the volume belongs to.
	Pool string `json:"pool" validate:"required"`

	// Path is the volume path below the pool, slash-separated.
	Path string `json:"path" validate:"required"`

	// Profile is the property-profile name this volume was declared with,
	// informational only at this layer (profiles are expanded by the
	// loader before the spec reaches the engine).
	Profile string `json:"profile,omitempty"`

	// Properties are the declared volume properties.
	Properties map[string]string `json:"properties,omitempty"`

	// Containers are the container attachments declared on this volume.
	Containers []ContainerSpec `json:"containers,omitempty" validate:"dive"`

	// Shares are the network shares declared on this volume.
	Shares []ShareSpec `json:"shares,omitempty" validate:"dive"`

	// AutoGenerated marks ancestor volumes synthesized during flattening
	// rather than declared by the user.
	AutoGenerated bool `json:"auto_generated,omitempty"`
}

// FullPath returns the volume identity, pool/path.
func (v *VolumeSpec) FullPath() string {
	return v.Pool + "/" + v.Path
}

// CurrentState is the observed property map per volume, keyed by full
// path. Produced by the Volume driver's List.
type CurrentState map[string]map[string]string
