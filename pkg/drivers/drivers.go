// Package drivers defines the collaborator contracts the reconciliation
// core depends on. Implementations talk to the live storage, compute, and
// share subsystems; the core never shells out or touches those systems
// directly. None of the contracts expose a destructive operation: there is
// no delete or destroy method to call.
package drivers

import "context"

// VolumeProperties is the observed or desired property set of a volume,
// keyed by property name (e.g. "compression", "recordsize").
type VolumeProperties map[string]string

// Volume mutates and inspects the hierarchical storage subsystem.
type Volume interface {
	// List enumerates all volumes under the given pool and their
	// observed properties, keyed by full path (pool/path).
	List(ctx context.Context, pool string) (map[string]VolumeProperties, error)

	// Exists reports whether the volume at path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// CreateOrSync creates the volume if missing, otherwise sets only the
	// properties that differ. Returns true if the volume was newly created.
	CreateOrSync(ctx context.Context, path string, props VolumeProperties) (bool, error)

	// SetProperty sets a single property on an existing volume.
	SetProperty(ctx context.Context, path, key, value string) error

	// Snapshot takes point-in-time snapshots of the given volumes under a
	// shared snapshot name. Returns path -> snapshot identifier for every
	// volume that was snapshotted.
	Snapshot(ctx context.Context, paths []string, name string) (map[string]string, error)

	// Rollback restores a volume to the given snapshot. With force set,
	// snapshots newer than the target are destroyed as part of the
	// rollback; this is the only path on which the subsystem may discard
	// data, and it is reachable only from checkpoint recovery.
	Rollback(ctx context.Context, path, snapshotID string, force bool) error
}

// ContainerInfo describes a live container as reported by the compute
// subsystem.
type ContainerInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// ContainerCreateSpec carries everything the compute subsystem needs to
// create a container.
type ContainerCreateSpec struct {
	ID       int               `json:"id,omitempty"`
	Name     string            `json:"name"`
	Template string            `json:"template"`
	Limits   map[string]string `json:"limits,omitempty"`
}

// MountInfo describes an existing volume attachment on a container.
type MountInfo struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// Compute mutates and inspects the container subsystem.
type Compute interface {
	// List enumerates live containers.
	List(ctx context.Context) ([]ContainerInfo, error)

	// Exists reports whether a container with the given id exists.
	Exists(ctx context.Context, id int) (bool, error)

	// Create creates a container and returns its id.
	Create(ctx context.Context, spec ContainerCreateSpec) (int, error)

	// Start starts a stopped container.
	Start(ctx context.Context, id int) error

	// Mount attaches a host volume path into the container.
	Mount(ctx context.Context, id int, hostPath, containerPath string, readonly bool) error

	// Attachments returns the container's current mounts keyed by mount id.
	Attachments(ctx context.Context, id int) (map[string]MountInfo, error)
}

// ShareConfig is the share-level configuration fragment written to the
// share subsystem. Keys and values follow the subsystem's own vocabulary
// (e.g. "read only", "browseable" for SMB).
type ShareConfig map[string]string

// Share mutates and inspects the network-share subsystem.
type Share interface {
	// ParseExisting returns the currently configured shares by name.
	ParseExisting(ctx context.Context) (map[string]ShareConfig, error)

	// AddOrUpdate creates or updates a share definition. It never removes
	// an existing share.
	AddOrUpdate(ctx context.Context, name, path string, cfg ShareConfig) error

	// ConfigFiles returns the configuration file paths the subsystem is
	// backed by, for checkpoint backup purposes.
	ConfigFiles() []string
}
