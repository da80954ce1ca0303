package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/drivers"
	"github.com/openhearth/hearth/pkg/state"
)

// Differ computes the ordered change list between desired and observed
// state. It never produces a destructive change: volumes present in the
// live system but absent from the desired state are left alone.
type Differ struct {
	// compute enumerates live containers for attachment diffing. May be
	// nil, in which case attachment diffing is skipped entirely.
	compute drivers.Compute

	logger zerolog.Logger
}

// NewDiffer creates a differ. compute may be nil when no compute-state
// provider is available.
func NewDiffer(compute drivers.Compute, logger zerolog.Logger) *Differ {
	return &Differ{
		compute: compute,
		logger:  logger.With().Str("component", "differ").Logger(),
	}
}

// Diff compares desired state with current state and returns the change
// list. Volume diffing walks the desired paths in ancestor-first order;
// a volume whose declared properties all match current state emits no
// change. A failure to enumerate live containers degrades the run to
// volume-only diffing instead of failing it.
func (d *Differ) Diff(ctx context.Context, desired *state.DesiredState, current state.CurrentState) (*DiffResult, error) {
	if desired == nil {
		return nil, NewValidationError("desired state is nil", nil).WithCode(ErrCodeValidation)
	}

	result := &DiffResult{
		Changes:   make([]Change, 0, desired.Len()),
		Timestamp: time.Now(),
	}

	for _, path := range desired.Paths() {
		spec := desired.Get(path)
		if change := diffVolume(path, spec, current); change != nil {
			result.Changes = append(result.Changes, *change)
		}
	}

	if d.compute != nil {
		if err := d.diffContainers(ctx, desired, result); err != nil {
			// Partial degradation: volume changes still apply this run.
			d.logger.Warn().Err(err).Msg("container enumeration failed, skipping attachment diffing")
			result.ComputeSkipped = true
			result.ContainerChanges = nil
		}
	}

	return result, nil
}

// diffVolume returns the change for one volume, or nil when it is
// already in the desired state.
func diffVolume(path string, spec *state.VolumeSpec, current state.CurrentState) *Change {
	observed, exists := current[path]
	if !exists {
		props := make(map[string]PropDelta, len(spec.Properties))
		for k, v := range spec.Properties {
			props[k] = PropDelta{New: v}
		}
		return &Change{Path: path, Kind: ChangeCreate, Props: props}
	}

	props := make(map[string]PropDelta)
	for k, want := range spec.Properties {
		if got, ok := observed[k]; !ok || got != want {
			props[k] = PropDelta{Old: got, New: want}
		}
	}
	if len(props) == 0 {
		return nil
	}
	return &Change{Path: path, Kind: ChangeModify, Props: props}
}

// diffContainers computes attachment changes against the live container
// list.
func (d *Differ) diffContainers(ctx context.Context, desired *state.DesiredState, result *DiffResult) error {
	live, err := d.compute.List(ctx)
	if err != nil {
		return NewDriverError("list containers", err).WithOperation("compute.list")
	}

	byID := make(map[int]drivers.ContainerInfo, len(live))
	byName := make(map[string]drivers.ContainerInfo, len(live))
	for _, c := range live {
		byID[c.ID] = c
		byName[c.Name] = c
	}

	for _, path := range desired.Paths() {
		spec := desired.Get(path)
		for i := range spec.Containers {
			cs := &spec.Containers[i]
			cc := d.diffAttachment(ctx, path, cs, byID, byName)
			result.ContainerChanges = append(result.ContainerChanges, cc)
		}
	}

	return nil
}

// diffAttachment computes the change for one declared attachment. An
// id match wins over a name match.
func (d *Differ) diffAttachment(
	ctx context.Context,
	volumePath string,
	cs *state.ContainerSpec,
	byID map[int]drivers.ContainerInfo,
	byName map[string]drivers.ContainerInfo,
) ContainerChange {
	var target drivers.ContainerInfo
	found := false
	if cs.ID > 0 {
		target, found = byID[cs.ID]
	}
	if !found && cs.Name != "" {
		target, found = byName[cs.Name]
	}

	if !found {
		if cs.AutoCreate {
			return ContainerChange{
				VolumePath: volumePath,
				Kind:       ContainerChangeCreate,
				ID:         cs.ID,
				Name:       cs.Name,
				Template:   cs.Template,
				MountPath:  cs.Attachment.MountPath,
				Reason:     fmt.Sprintf("container %s not found, will create from %s", cs.Identity(), cs.Template),
			}
		}
		return ContainerChange{
			VolumePath: volumePath,
			Kind:       ContainerChangeExistsOK,
			ID:         cs.ID,
			Name:       cs.Name,
			MountPath:  cs.Attachment.MountPath,
			Reason:     fmt.Sprintf("container %s not found, creation not requested", cs.Identity()),
		}
	}

	attached, err := d.volumeAttached(ctx, target.ID, volumePath)
	if err != nil {
		// Attachment state unknown: report mount-only so the applicator
		// performs its own idempotent mount.
		d.logger.Warn().Err(err).Int("container", target.ID).Msg("could not read attachments")
	}
	if attached {
		return ContainerChange{
			VolumePath: volumePath,
			Kind:       ContainerChangeExistsOK,
			ID:         target.ID,
			Name:       target.Name,
			MountPath:  cs.Attachment.MountPath,
			Reason:     fmt.Sprintf("volume already mounted at %s", cs.Attachment.MountPath),
		}
	}

	return ContainerChange{
		VolumePath: volumePath,
		Kind:       ContainerChangeMountOnly,
		ID:         target.ID,
		Name:       target.Name,
		MountPath:  cs.Attachment.MountPath,
		Reason:     fmt.Sprintf("container %s exists, mount missing", cs.Identity()),
	}
}

// volumeAttached reports whether the container already mounts the volume.
func (d *Differ) volumeAttached(ctx context.Context, id int, volumePath string) (bool, error) {
	mounts, err := d.compute.Attachments(ctx, id)
	if err != nil {
		return false, err
	}
	for _, m := range mounts {
		if m.Source == "/mnt/"+volumePath || m.Source == volumePath {
			return true, nil
		}
	}
	return false, nil
}
