// Package perms resolves per-volume consumer declarations into concrete,
// conflict-free access decisions: mount read-only flags, share config
// fragments, and the volume-owner permission mode.
package perms

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/drivers"
	"github.com/openhearth/hearth/pkg/engine"
	"github.com/openhearth/hearth/pkg/state"
)

// ConsumerKind is the kind of accessor declared on a volume.
type ConsumerKind string

const (
	KindCompute  ConsumerKind = "compute"
	KindSMBShare ConsumerKind = "smb-share"
	KindNFSShare ConsumerKind = "nfs-share"
	KindUser     ConsumerKind = "user"
	KindGroup    ConsumerKind = "group"
)

// Validate checks if the consumer kind is valid.
func (k ConsumerKind) Validate() error {
	switch k {
	case KindCompute, KindSMBShare, KindNFSShare, KindUser, KindGroup:
		return nil
	default:
		return fmt.Errorf("invalid consumer kind: %s", k)
	}
}

// Consumer is a declared accessor of a volume.
type Consumer struct {
	// Kind is the consumer kind.
	Kind ConsumerKind `json:"kind"`

	// Name identifies the consumer within its kind.
	Name string `json:"name"`

	// Access is the declared access level.
	Access state.AccessLevel `json:"access"`
}

// Base permission modes for the volume owner. The permissive mode is
// applied as soon as any consumer can write: the owning filesystem must
// allow the write path to exist even though read-only consumers keep
// their individual read-only mounts.
const (
	ModeStrict     = 0o755
	ModePermissive = 0o775
)

// registration is the per-volume consumer set.
type registration struct {
	owner     string
	consumers []Consumer
}

// Resolver registers volume consumers and answers access questions for
// the applicator and the driver collaborators. Registration is monotonic
// within a run; a conflict rejects the offending declaration only.
type Resolver struct {
	defaultOwner string
	volumes      map[string]*registration
	warnings     []string
	logger       zerolog.Logger
}

// NewResolver creates a resolver with the given default owner identity.
func NewResolver(defaultOwner string, logger zerolog.Logger) *Resolver {
	if defaultOwner == "" {
		defaultOwner = "root"
	}
	return &Resolver{
		defaultOwner: defaultOwner,
		volumes:      make(map[string]*registration),
		logger:       logger.With().Str("component", "perms").Logger(),
	}
}

// Register registers a volume, idempotently. The existing registration
// is returned untouched if one is present.
func (r *Resolver) Register(volume string) {
	if _, ok := r.volumes[volume]; ok {
		return
	}
	r.volumes[volume] = &registration{owner: r.defaultOwner}
}

// AddConsumer adds a consumer declaration to a volume. Re-declaring an
// identical consumer is a no-op. Declaring the same (kind, name) with a
// different access level is a permission conflict and leaves the
// registration unchanged.
func (r *Resolver) AddConsumer(volume string, kind ConsumerKind, name string, access state.AccessLevel) error {
	if err := kind.Validate(); err != nil {
		return engine.NewValidationError("invalid consumer", err).WithResource(volume)
	}
	if err := access.Validate(); err != nil {
		return engine.NewValidationError("invalid consumer", err).WithResource(volume)
	}

	r.Register(volume)
	reg := r.volumes[volume]

	for _, c := range reg.consumers {
		if c.Kind == kind && c.Name == name {
			if c.Access == access {
				return nil
			}
			return engine.NewConflictError(
				fmt.Sprintf("consumer %s/%s declared with %s, already registered with %s", kind, name, access, c.Access),
				nil,
			).WithResource(volume).WithCode(engine.ErrCodeConflict)
		}
	}

	reg.consumers = append(reg.consumers, Consumer{Kind: kind, Name: name, Access: access})
	return nil
}

// Consumers returns a copy of the consumers registered on a volume.
func (r *Resolver) Consumers(volume string) []Consumer {
	reg, ok := r.volumes[volume]
	if !ok {
		return nil
	}
	out := make([]Consumer, len(reg.consumers))
	copy(out, reg.consumers)
	return out
}

// MountReadonly decides whether a compute mount must be read-only. An
// unregistered consumer defaults to read-only and records a warning:
// failing safe beats failing the mount.
func (r *Resolver) MountReadonly(volume, computeName string) bool {
	reg, ok := r.volumes[volume]
	if ok {
		for _, c := range reg.consumers {
			if c.Kind == KindCompute && c.Name == computeName {
				return c.Access != state.AccessWrite
			}
		}
	}
	warning := fmt.Sprintf("volume %s: no consumer registered for compute %s, defaulting to read-only", volume, computeName)
	r.warnings = append(r.warnings, warning)
	r.logger.Warn().Str("volume", volume).Str("compute", computeName).Msg("unregistered mount consumer, defaulting to read-only")
	return true
}

// ShareConfig derives the share-config fragment for a named share on a
// volume. A share with no matching consumer yields an empty fragment.
func (r *Resolver) ShareConfig(volume, shareName string) drivers.ShareConfig {
	reg, ok := r.volumes[volume]
	if !ok {
		return drivers.ShareConfig{}
	}
	for _, c := range reg.consumers {
		if (c.Kind != KindSMBShare && c.Kind != KindNFSShare) || c.Name != shareName {
			continue
		}
		cfg := drivers.ShareConfig{
			"path":       "/mnt/" + volume,
			"browseable": "yes",
		}
		if c.Access == state.AccessWrite {
			cfg["read only"] = "no"
			cfg["writable"] = "yes"
		} else {
			cfg["read only"] = "yes"
			cfg["writable"] = "no"
		}
		return cfg
	}
	return drivers.ShareConfig{}
}

// BasePermissionMode returns the owner-level permission mode for the
// volume: permissive when any consumer has write access, strict
// otherwise.
func (r *Resolver) BasePermissionMode(volume string) int {
	reg, ok := r.volumes[volume]
	if !ok {
		return ModeStrict
	}
	for _, c := range reg.consumers {
		if c.Access == state.AccessWrite {
			return ModePermissive
		}
	}
	return ModeStrict
}

// ValidateAll returns advisory warnings for every volume that mixes read
// and write consumers. Mixing is allowed but flagged: a read-only viewer
// next to a concurrent writer is a potential data race.
func (r *Resolver) ValidateAll() []string {
	warnings := make([]string, 0, len(r.warnings))
	warnings = append(warnings, r.warnings...)

	for volume, reg := range r.volumes {
		readers, writers := 0, 0
		for _, c := range reg.consumers {
			switch c.Access {
			case state.AccessRead:
				readers++
			case state.AccessWrite:
				writers++
			}
		}
		if readers > 0 && writers > 0 {
			warnings = append(warnings, fmt.Sprintf(
				"volume %s has both read (%d) and write (%d) consumers", volume, readers, writers))
		}
	}
	return warnings
}
