package devsim

import (
	"context"
	"testing"

	"github.com/openhearth/hearth/pkg/drivers"
)

func TestWorld_VolumeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	ctx := context.Background()
	vol := w.Volume()

	created, err := vol.CreateOrSync(ctx, "tank/media", drivers.VolumeProperties{"compression": "lz4"})
	if err != nil || !created {
		t.Fatalf("Expected create, got created=%v err=%v", created, err)
	}

	created, err = vol.CreateOrSync(ctx, "tank/media", drivers.VolumeProperties{"compression": "zstd"})
	if err != nil || created {
		t.Fatalf("Expected sync of existing volume, got created=%v err=%v", created, err)
	}

	// State survives reopening
	w2, err := Open(dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	listed, err := w2.Volume().List(ctx, "tank")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if listed["tank/media"]["compression"] != "zstd" {
		t.Errorf("Expected persisted property, got %v", listed)
	}
}

func TestWorld_SnapshotAndRollback(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	vol := w.Volume()
	if _, err := vol.CreateOrSync(ctx, "tank/a", drivers.VolumeProperties{"quota": "10G"}); err != nil {
		t.Fatal(err)
	}

	snaps, err := vol.Snapshot(ctx, []string{"tank/a"}, "cp1")
	if err != nil || len(snaps) != 1 {
		t.Fatalf("Expected 1 snapshot, got %v err=%v", snaps, err)
	}

	if err := vol.SetProperty(ctx, "tank/a", "quota", "99G"); err != nil {
		t.Fatal(err)
	}
	if err := vol.Rollback(ctx, "tank/a", snaps["tank/a"], false); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	exists, _ := vol.Exists(ctx, "tank/a")
	if !exists {
		t.Fatal("Expected volume to exist after rollback")
	}
	listed, _ := vol.List(ctx, "tank")
	if listed["tank/a"]["quota"] != "10G" {
		t.Errorf("Expected rolled-back property, got %v", listed["tank/a"])
	}
}

func TestWorld_ComputeLifecycle(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	comp := w.Compute()

	id, err := comp.Create(ctx, drivers.ContainerCreateSpec{Name: "plex", Template: "debian-12"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := comp.Start(ctx, id); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := comp.Mount(ctx, id, "/mnt/tank/media", "/data", true); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	mounts, err := comp.Attachments(ctx, id)
	if err != nil || len(mounts) != 1 {
		t.Fatalf("Expected 1 attachment, got %v err=%v", mounts, err)
	}
	for _, m := range mounts {
		if m.Source != "/mnt/tank/media" || !m.ReadOnly {
			t.Errorf("Expected readonly mount of /mnt/tank/media, got %+v", m)
		}
	}

	if err := comp.Mount(ctx, 9999, "/mnt/x", "/x", false); err == nil {
		t.Error("Expected mount on unknown container to fail")
	}
}

func TestWorld_ShareAddOrUpdate(t *testing.T) {
	w, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	shr := w.Share()

	err = shr.AddOrUpdate(ctx, "media", "/mnt/tank/media", drivers.ShareConfig{"read only": "yes"})
	if err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	existing, err := shr.ParseExisting(ctx)
	if err != nil {
		t.Fatalf("ParseExisting failed: %v", err)
	}
	cfg, ok := existing["media"]
	if !ok || cfg["path"] != "/mnt/tank/media" || cfg["read only"] != "yes" {
		t.Errorf("Expected configured share, got %v", existing)
	}
}
