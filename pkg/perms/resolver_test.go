package perms

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/engine"
	"github.com/openhearth/hearth/pkg/state"
)

func TestResolver_AddConsumer_ConflictDetection(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())

	if err := r.AddConsumer("tank/media", KindCompute, "plex", state.AccessRead); err != nil {
		t.Fatalf("Expected first declaration to succeed, got: %v", err)
	}

	// Identical re-declaration is a no-op
	if err := r.AddConsumer("tank/media", KindCompute, "plex", state.AccessRead); err != nil {
		t.Fatalf("Expected identical re-declaration to be a no-op, got: %v", err)
	}
	if len(r.Consumers("tank/media")) != 1 {
		t.Errorf("Expected 1 consumer, got %d", len(r.Consumers("tank/media")))
	}

	// Same consumer, different access: conflict, registration untouched
	err := r.AddConsumer("tank/media", KindCompute, "plex", state.AccessWrite)
	if !engine.IsConflict(err) {
		t.Fatalf("Expected conflict error, got: %v", err)
	}
	consumers := r.Consumers("tank/media")
	if len(consumers) != 1 || consumers[0].Access != state.AccessRead {
		t.Errorf("Expected original registration to survive the conflict, got %+v", consumers)
	}

	// A different consumer on the same volume is unaffected
	if err := r.AddConsumer("tank/media", KindCompute, "jellyfin", state.AccessWrite); err != nil {
		t.Fatalf("Expected sibling consumer to register after a conflict, got: %v", err)
	}
}

func TestResolver_AddConsumer_RejectsInvalidInput(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())

	if err := r.AddConsumer("tank/media", "cron-job", "x", state.AccessRead); err == nil {
		t.Error("Expected invalid kind to be rejected")
	}
	if err := r.AddConsumer("tank/media", KindCompute, "x", "rw"); err == nil {
		t.Error("Expected invalid access level to be rejected")
	}
}

func TestResolver_MountReadonly(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())
	_ = r.AddConsumer("tank/media", KindCompute, "plex", state.AccessRead)
	_ = r.AddConsumer("tank/media", KindCompute, "sonarr", state.AccessWrite)

	if !r.MountReadonly("tank/media", "plex") {
		t.Error("Expected read consumer to mount read-only")
	}
	if r.MountReadonly("tank/media", "sonarr") {
		t.Error("Expected write consumer to mount read-write")
	}

	// Unknown consumer fails safe and records a warning
	if !r.MountReadonly("tank/media", "mystery") {
		t.Error("Expected unregistered consumer to default to read-only")
	}
	warnings := r.ValidateAll()
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "mystery") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a warning about the unregistered consumer, got %v", warnings)
	}
}

func TestResolver_ShareConfig(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())
	_ = r.AddConsumer("tank/media", KindSMBShare, "media", state.AccessRead)
	_ = r.AddConsumer("tank/scratch", KindSMBShare, "scratch", state.AccessWrite)

	ro := r.ShareConfig("tank/media", "media")
	if ro["path"] != "/mnt/tank/media" {
		t.Errorf("Expected share path under /mnt, got %q", ro["path"])
	}
	if ro["read only"] != "yes" || ro["writable"] != "no" {
		t.Errorf("Expected read-only fragment, got %v", ro)
	}

	rw := r.ShareConfig("tank/scratch", "scratch")
	if rw["read only"] != "no" || rw["writable"] != "yes" {
		t.Errorf("Expected writable fragment, got %v", rw)
	}

	if len(r.ShareConfig("tank/media", "nope")) != 0 {
		t.Error("Expected empty fragment for unknown share")
	}
}

func TestResolver_BasePermissionMode(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())
	_ = r.AddConsumer("tank/ro", KindCompute, "viewer", state.AccessRead)
	_ = r.AddConsumer("tank/rw", KindCompute, "viewer", state.AccessRead)
	_ = r.AddConsumer("tank/rw", KindSMBShare, "drop", state.AccessWrite)

	if got := r.BasePermissionMode("tank/ro"); got != ModeStrict {
		t.Errorf("Expected strict mode %o for read-only volume, got %o", ModeStrict, got)
	}
	if got := r.BasePermissionMode("tank/rw"); got != ModePermissive {
		t.Errorf("Expected permissive mode %o once any consumer writes, got %o", ModePermissive, got)
	}
	if got := r.BasePermissionMode("tank/unknown"); got != ModeStrict {
		t.Errorf("Expected strict mode for unregistered volume, got %o", got)
	}
}

func TestResolver_ValidateAll_FlagsMixedAccess(t *testing.T) {
	r := NewResolver("root", zerolog.Nop())
	_ = r.AddConsumer("tank/mixed", KindCompute, "writer", state.AccessWrite)
	_ = r.AddConsumer("tank/mixed", KindCompute, "reader", state.AccessRead)
	_ = r.AddConsumer("tank/clean", KindCompute, "only", state.AccessWrite)

	warnings := r.ValidateAll()
	mixed := false
	for _, w := range warnings {
		if strings.Contains(w, "tank/mixed") {
			mixed = true
		}
		if strings.Contains(w, "tank/clean") {
			t.Errorf("Did not expect a warning for tank/clean: %s", w)
		}
	}
	if !mixed {
		t.Errorf("Expected mixed-access warning, got %v", warnings)
	}
}

func TestResolver_Populate_CollectsConflicts(t *testing.T) {
	ds, err := state.NewDesiredState([]*state.VolumeSpec{
		{
			Pool: "tank",
			Path: "media",
			Containers: []state.ContainerSpec{
				{Name: "plex", Attachment: state.Attachment{MountPath: "/a", Access: state.AccessRead}},
				{Name: "plex", Attachment: state.Attachment{MountPath: "/b", Access: state.AccessWrite}},
			},
			Shares: []state.ShareSpec{
				{Protocol: state.ProtocolSMB, Name: "media", Access: state.AccessRead},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to build desired state: %v", err)
	}

	r := NewResolver("root", zerolog.Nop())
	conflicts := r.Populate(ds)

	if len(conflicts) != 1 {
		t.Fatalf("Expected exactly the conflicting declaration to fail, got %v", conflicts)
	}
	if !engine.IsConflict(conflicts[0]) {
		t.Errorf("Expected a conflict error, got %v", conflicts[0])
	}

	// The already-resolved consumers survive
	if len(r.Consumers("tank/media")) != 2 {
		t.Errorf("Expected compute + share consumers to remain, got %+v", r.Consumers("tank/media"))
	}
}
