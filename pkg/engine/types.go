package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind is the kind of volume change the diff produced.
type ChangeKind string

const (
	// ChangeCreate indicates the volume does not exist and will be created.
	ChangeCreate ChangeKind = "create"

	// ChangeModify indicates the volume exists and some declared
	// properties differ from the observed values.
	ChangeModify ChangeKind = "modify"

	// ChangeDelete is defined for completeness but is never produced by
	// the diff engine and is rejected by the safety policy. Destructive
	// reconciliation is deliberately unimplemented.
	ChangeDelete ChangeKind = "delete"
)

// Validate checks if the change kind is valid.
func (k ChangeKind) Validate() error {
	switch k {
	case ChangeCreate, ChangeModify, ChangeDelete:
		return nil
	default:
		return fmt.Errorf("invalid change kind: %s", k)
	}
}

// PropDelta is the old and new value of a single volume property. Old is
// empty for properties on a freshly created volume.
type PropDelta struct {
	Old string `json:"old,omitempty"`
	New string `json:"new"`
}

// Change is a single volume change to apply.
type Change struct {
	// Path is the full volume path (pool/path).
	Path string `json:"path"`

	// Kind is the change kind.
	Kind ChangeKind `json:"kind"`

	// Props maps each changing property to its old and new value. For a
	// create it holds every declared property.
	Props map[string]PropDelta `json:"props,omitempty"`
}

// ContainerChangeKind is the kind of container-attachment change.
type ContainerChangeKind string

const (
	// ContainerChangeCreate indicates the container is missing and
	// creation was requested.
	ContainerChangeCreate ContainerChangeKind = "create"

	// ContainerChangeMountOnly indicates the container exists and only
	// the volume attachment is missing.
	ContainerChangeMountOnly ContainerChangeKind = "mount-only"

	// ContainerChangeExistsOK indicates nothing needs to happen: either
	// the attachment is already in place, or the container is missing
	// and creation was not requested. A reporting state, not a failure.
	ContainerChangeExistsOK ContainerChangeKind = "exists-ok"
)

// Validate checks if the container change kind is valid.
func (k ContainerChangeKind) Validate() error {
	switch k {
	case ContainerChangeCreate, ContainerChangeMountOnly, ContainerChangeExistsOK:
		return nil
	default:
		return fmt.Errorf("invalid container change kind: %s", k)
	}
}

// ContainerChange is a single container-attachment change to apply.
type ContainerChange struct {
	// VolumePath is the full path of the volume being attached.
	VolumePath string `json:"volume_path"`

	// Kind is the change kind.
	Kind ContainerChangeKind `json:"kind"`

	// ID is the target container id, 0 if only a name was declared.
	ID int `json:"id,omitempty"`

	// Name is the target container name.
	Name string `json:"name,omitempty"`

	// Template is the template reference for a create.
	Template string `json:"template,omitempty"`

	// MountPath is the path inside the container.
	MountPath string `json:"mount_path,omitempty"`

	// Reason is the human-readable rationale for this change.
	Reason string `json:"reason"`
}

// DiffResult is the full output of a diff run.
type DiffResult struct {
	// Changes are the volume changes, in desired-state order.
	Changes []Change `json:"changes"`

	// ContainerChanges are the container-attachment changes.
	ContainerChanges []ContainerChange `json:"container_changes,omitempty"`

	// ComputeSkipped is set when live-container enumeration failed and
	// attachment diffing was skipped for the run.
	ComputeSkipped bool `json:"compute_skipped,omitempty"`

	// Timestamp is when the diff was computed.
	Timestamp time.Time `json:"timestamp"`
}

// Empty reports whether the diff found nothing to do beyond exists-ok
// container states.
func (d *DiffResult) Empty() bool {
	if len(d.Changes) > 0 {
		return false
	}
	for _, cc := range d.ContainerChanges {
		if cc.Kind != ContainerChangeExistsOK {
			return false
		}
	}
	return true
}

// ResultStatus is the outcome of applying one resource.
type ResultStatus string

const (
	// ResultOK indicates the resource was applied successfully.
	ResultOK ResultStatus = "ok"

	// ResultSkipped indicates the resource was skipped, usually because
	// its backing volume failed.
	ResultSkipped ResultStatus = "skipped"

	// ResultFailed indicates the resource failed to apply.
	ResultFailed ResultStatus = "failed"
)

// Validate checks if the result status is valid.
func (s ResultStatus) Validate() error {
	switch s {
	case ResultOK, ResultSkipped, ResultFailed:
		return nil
	default:
		return fmt.Errorf("invalid result status: %s", s)
	}
}

// ResourceKind is the kind of resource an apply result refers to.
type ResourceKind string

const (
	ResourceVolume    ResourceKind = "volume"
	ResourceContainer ResourceKind = "container"
	ResourceMount     ResourceKind = "mount"
	ResourceShare     ResourceKind = "share"
)

// ApplyResult is the per-resource outcome of an apply step. Callers
// branch on Status, never on message text.
type ApplyResult struct {
	// Kind is the resource kind this result refers to.
	Kind ResourceKind `json:"kind"`

	// Resource is the resource identity (volume path, container identity,
	// or share name).
	Resource string `json:"resource"`

	// Status is the outcome.
	Status ResultStatus `json:"status"`

	// Created is true when the resource was newly created rather than
	// synced in place.
	Created bool `json:"created,omitempty"`

	// Message is the human-readable detail for the operator.
	Message string `json:"message,omitempty"`
}

// ApplySummary aggregates an apply run.
type ApplySummary struct {
	// Applied is the number of resources applied successfully.
	Applied int `json:"applied"`

	// Created is the number of resources newly created.
	Created int `json:"created"`

	// Skipped is the number of resources skipped.
	Skipped int `json:"skipped"`

	// Failed is the number of resources that failed.
	Failed int `json:"failed"`
}

// ApplyReport is the full outcome of an apply run.
type ApplyReport struct {
	// Results are the per-resource outcomes in application order.
	Results []ApplyResult `json:"results"`

	// Summary aggregates the results.
	Summary ApplySummary `json:"summary"`

	// StartedAt is when the apply began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the apply finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Failed reports whether any resource failed to apply.
func (r *ApplyReport) Failed() bool {
	return r.Summary.Failed > 0
}

func (r *ApplyReport) add(res ApplyResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case ResultOK:
		r.Summary.Applied++
		if res.Created {
			r.Summary.Created++
		}
	case ResultSkipped:
		r.Summary.Skipped++
	case ResultFailed:
		r.Summary.Failed++
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum
// serialization.
func (k ChangeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *ChangeKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = ChangeKind(str)
	return k.Validate()
}
