package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/drivers"
	"github.com/openhearth/hearth/pkg/state"
)

func mustDesired(t *testing.T, specs ...*state.VolumeSpec) *state.DesiredState {
	t.Helper()
	ds, err := state.NewDesiredState(specs)
	if err != nil {
		t.Fatalf("Failed to build desired state: %v", err)
	}
	return ds
}

func TestDiffer_Diff_MissingVolumeProducesCreate(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool:       "tank",
		Path:       "media",
		Properties: map[string]string{"compression": "lz4"},
	})

	differ := NewDiffer(nil, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, state.CurrentState{})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(diff.Changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(diff.Changes))
	}
	c := diff.Changes[0]
	if c.Kind != ChangeCreate {
		t.Errorf("Expected create, got %s", c.Kind)
	}
	if c.Props["compression"].New != "lz4" {
		t.Errorf("Expected new compression lz4, got %+v", c.Props)
	}
}

func TestDiffer_Diff_PropertyDriftProducesModify(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool:       "tank",
		Path:       "media",
		Properties: map[string]string{"compression": "zstd", "recordsize": "1M"},
	})
	current := state.CurrentState{
		"tank/media": {"compression": "lz4", "recordsize": "1M", "quota": "500G"},
	}

	differ := NewDiffer(nil, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(diff.Changes) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(diff.Changes))
	}
	c := diff.Changes[0]
	if c.Kind != ChangeModify {
		t.Errorf("Expected modify, got %s", c.Kind)
	}
	if len(c.Props) != 1 {
		t.Errorf("Expected only the drifted property, got %+v", c.Props)
	}
	delta := c.Props["compression"]
	if delta.Old != "lz4" || delta.New != "zstd" {
		t.Errorf("Expected lz4 -> zstd, got %+v", delta)
	}
}

func TestDiffer_Diff_InSyncVolumeEmitsNoChange(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool:       "tank",
		Path:       "media",
		Properties: map[string]string{"compression": "lz4"},
	})
	current := state.CurrentState{
		"tank/media": {"compression": "lz4", "extra": "ignored"},
	}

	differ := NewDiffer(nil, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !diff.Empty() {
		t.Errorf("Expected empty diff, got %+v", diff)
	}
}

func TestDiffer_Diff_NeverProducesDelete(t *testing.T) {
	// A live volume absent from the desired state is left alone.
	desired := mustDesired(t, &state.VolumeSpec{Pool: "tank", Path: "keep"})
	current := state.CurrentState{
		"tank/keep":     {},
		"tank/orphaned": {"compression": "lz4"},
	}

	differ := NewDiffer(nil, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, current)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, c := range diff.Changes {
		if c.Path == "tank/orphaned" {
			t.Errorf("Expected orphaned volume to be left alone, got change %+v", c)
		}
		if c.Kind != ChangeCreate && c.Kind != ChangeModify {
			t.Errorf("Unexpected change kind %s", c.Kind)
		}
	}
}

func TestDiffer_Diff_IDMatchWinsOverNameMatch(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool: "tank",
		Path: "media",
		Containers: []state.ContainerSpec{
			{
				ID:         101,
				Name:       "plex",
				Attachment: state.Attachment{MountPath: "/data", Access: state.AccessRead},
			},
		},
	})

	compute := newFakeCompute()
	compute.containers = []drivers.ContainerInfo{
		{ID: 101, Name: "renamed", Status: "running"},
		{ID: 102, Name: "plex", Status: "running"},
	}

	differ := NewDiffer(compute, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, state.CurrentState{"tank/media": {}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(diff.ContainerChanges) != 1 {
		t.Fatalf("Expected 1 container change, got %d", len(diff.ContainerChanges))
	}
	cc := diff.ContainerChanges[0]
	if cc.ID != 101 {
		t.Errorf("Expected id match to win, got container %d", cc.ID)
	}
	if cc.Kind != ContainerChangeMountOnly {
		t.Errorf("Expected mount-only for existing unmounted container, got %s", cc.Kind)
	}
}

func TestDiffer_Diff_NameOnlyDeclarationIgnoresZeroIDContainer(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool: "tank",
		Path: "media",
		Containers: []state.ContainerSpec{
			{
				Name:       "plex",
				Template:   "debian-12",
				AutoCreate: true,
				Attachment: state.Attachment{MountPath: "/data", Access: state.AccessRead},
			},
		},
	})

	// A live container reporting id 0 must not satisfy a name-only
	// declaration for a different container.
	compute := newFakeCompute()
	compute.containers = []drivers.ContainerInfo{
		{ID: 0, Name: "legacy", Status: "running"},
	}

	differ := NewDiffer(compute, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, state.CurrentState{"tank/media": {}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(diff.ContainerChanges) != 1 {
		t.Fatalf("Expected 1 container change, got %d", len(diff.ContainerChanges))
	}
	cc := diff.ContainerChanges[0]
	if cc.Kind != ContainerChangeCreate {
		t.Errorf("Expected create for the unmatched declaration, got %s", cc.Kind)
	}
}

func TestDiffer_Diff_MissingContainerAutoCreate(t *testing.T) {
	tests := []struct {
		name       string
		autoCreate bool
		wantKind   ContainerChangeKind
	}{
		{"auto-create requested", true, ContainerChangeCreate},
		{"creation not requested", false, ContainerChangeExistsOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desired := mustDesired(t, &state.VolumeSpec{
				Pool: "tank",
				Path: "media",
				Containers: []state.ContainerSpec{
					{
						Name:       "plex",
						Template:   "debian-12",
						AutoCreate: tt.autoCreate,
						Attachment: state.Attachment{MountPath: "/data", Access: state.AccessRead},
					},
				},
			})

			differ := NewDiffer(newFakeCompute(), zerolog.Nop())
			diff, err := differ.Diff(context.Background(), desired, state.CurrentState{"tank/media": {}})
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if len(diff.ContainerChanges) != 1 {
				t.Fatalf("Expected 1 container change, got %d", len(diff.ContainerChanges))
			}
			if diff.ContainerChanges[0].Kind != tt.wantKind {
				t.Errorf("Expected %s, got %s", tt.wantKind, diff.ContainerChanges[0].Kind)
			}
		})
	}
}

func TestDiffer_Diff_AlreadyMountedReportsExistsOK(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool: "tank",
		Path: "media",
		Containers: []state.ContainerSpec{
			{
				ID:         101,
				Attachment: state.Attachment{MountPath: "/data", Access: state.AccessRead},
			},
		},
	})

	compute := newFakeCompute()
	compute.containers = []drivers.ContainerInfo{{ID: 101, Name: "plex"}}
	compute.attachments[101] = map[string]drivers.MountInfo{
		"mp0": {Source: "/mnt/tank/media", Target: "/data"},
	}

	differ := NewDiffer(compute, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, state.CurrentState{"tank/media": {}})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff.ContainerChanges[0].Kind != ContainerChangeExistsOK {
		t.Errorf("Expected exists-ok for mounted volume, got %s", diff.ContainerChanges[0].Kind)
	}
}

func TestDiffer_Diff_ComputeListFailureDegradesToVolumesOnly(t *testing.T) {
	desired := mustDesired(t, &state.VolumeSpec{
		Pool: "tank",
		Path: "media",
		Containers: []state.ContainerSpec{
			{ID: 101, Attachment: state.Attachment{MountPath: "/data", Access: state.AccessRead}},
		},
	})

	compute := newFakeCompute()
	compute.listErr = fmt.Errorf("compute api unreachable")

	differ := NewDiffer(compute, zerolog.Nop())
	diff, err := differ.Diff(context.Background(), desired, state.CurrentState{})
	if err != nil {
		t.Fatalf("Expected degraded diff, not an error: %v", err)
	}
	if !diff.ComputeSkipped {
		t.Error("Expected ComputeSkipped to be set")
	}
	if len(diff.ContainerChanges) != 0 {
		t.Errorf("Expected no container changes, got %d", len(diff.ContainerChanges))
	}
	if len(diff.Changes) != 1 {
		t.Errorf("Expected volume diffing to proceed, got %d changes", len(diff.Changes))
	}
}

func TestDiffer_Diff_NilDesiredIsValidationError(t *testing.T) {
	differ := NewDiffer(nil, zerolog.Nop())
	_, err := differ.Diff(context.Background(), nil, state.CurrentState{})
	if !IsValidation(err) {
		t.Fatalf("Expected validation error, got: %v", err)
	}
}
