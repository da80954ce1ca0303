package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/drivers"
)

// Mock implementations for testing

type fakeVolume struct {
	existing    map[string]bool
	bulkErr     error
	snapErrs    map[string]error
	rollbackErr map[string]error
	snapCalls   [][]string
	rollbacks   []string
}

func newFakeVolume(paths ...string) *fakeVolume {
	f := &fakeVolume{
		existing:    map[string]bool{},
		snapErrs:    map[string]error{},
		rollbackErr: map[string]error{},
	}
	for _, p := range paths {
		f.existing[p] = true
	}
	return f
}

func (f *fakeVolume) List(_ context.Context, _ string) (map[string]drivers.VolumeProperties, error) {
	return nil, nil
}

func (f *fakeVolume) Exists(_ context.Context, path string) (bool, error) {
	return f.existing[path], nil
}

func (f *fakeVolume) CreateOrSync(_ context.Context, _ string, _ drivers.VolumeProperties) (bool, error) {
	return false, nil
}

func (f *fakeVolume) SetProperty(_ context.Context, _, _, _ string) error {
	return nil
}

func (f *fakeVolume) Snapshot(_ context.Context, paths []string, name string) (map[string]string, error) {
	f.snapCalls = append(f.snapCalls, paths)
	if len(paths) > 1 && f.bulkErr != nil {
		return nil, f.bulkErr
	}
	out := map[string]string{}
	for _, p := range paths {
		if err := f.snapErrs[p]; err != nil {
			return nil, err
		}
		out[p] = p + "@" + name
	}
	return out, nil
}

func (f *fakeVolume) Rollback(_ context.Context, path, snapshotID string, _ bool) error {
	if err := f.rollbackErr[path]; err != nil {
		return err
	}
	f.rollbacks = append(f.rollbacks, snapshotID)
	return nil
}

type fakeShare struct {
	files []string
}

func (f *fakeShare) ParseExisting(_ context.Context) (map[string]drivers.ShareConfig, error) {
	return nil, nil
}

func (f *fakeShare) AddOrUpdate(_ context.Context, _, _ string, _ drivers.ShareConfig) error {
	return nil
}

func (f *fakeShare) ConfigFiles() []string {
	return f.files
}

func TestController_Create_SnapshotsExistingVolumesOnly(t *testing.T) {
	vol := newFakeVolume("tank/media", "tank/apps")
	c := NewController(vol, nil, t.TempDir(), zerolog.Nop())

	cp, err := c.Create(context.Background(), []string{"tank/media", "tank/apps", "tank/new"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(cp.Snapshots) != 2 {
		t.Fatalf("Expected 2 snapshots, got %v", cp.Snapshots)
	}
	if _, ok := cp.Snapshots["tank/new"]; ok {
		t.Error("Expected not-yet-existing volume to be skipped")
	}
}

func TestController_Create_BulkFailureFallsBackPerVolume(t *testing.T) {
	vol := newFakeVolume("tank/a", "tank/b", "tank/c")
	vol.bulkErr = fmt.Errorf("snapshot set refused")
	vol.snapErrs["tank/b"] = fmt.Errorf("volume busy")

	c := NewController(vol, nil, t.TempDir(), zerolog.Nop())
	cp, err := c.Create(context.Background(), []string{"tank/a", "tank/b", "tank/c"})
	if err != nil {
		t.Fatalf("Expected partial checkpoint, not error: %v", err)
	}

	if len(cp.Snapshots) != 2 {
		t.Errorf("Expected the 2 snapshot-able volumes, got %v", cp.Snapshots)
	}
	if _, ok := cp.Snapshots["tank/b"]; ok {
		t.Error("Expected the busy volume to be absent")
	}
}

func TestController_Create_BacksUpConfigFiles(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "smb.conf")
	if err := os.WriteFile(confPath, []byte("[media]\npath = /mnt/tank/media\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	vol := newFakeVolume("tank/media")
	shr := &fakeShare{files: []string{confPath, filepath.Join(dir, "absent.conf")}}
	c := NewController(vol, shr, filepath.Join(dir, "cp"), zerolog.Nop())

	cp, err := c.Create(context.Background(), []string{"tank/media"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	backup, ok := cp.ConfigBackups[confPath]
	if !ok {
		t.Fatalf("Expected backup of %s, got %v", confPath, cp.ConfigBackups)
	}
	data, err := os.ReadFile(backup)
	if err != nil || len(data) == 0 {
		t.Errorf("Expected readable backup copy, got err=%v", err)
	}
	if len(cp.ConfigBackups) != 1 {
		t.Errorf("Expected absent file to be skipped silently, got %v", cp.ConfigBackups)
	}
}

func TestController_Rollback_RestoresSnapshotsAndConfigs(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "smb.conf")
	if err := os.WriteFile(confPath, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	vol := newFakeVolume("tank/media")
	shr := &fakeShare{files: []string{confPath}}
	c := NewController(vol, shr, filepath.Join(dir, "cp"), zerolog.Nop())

	cp, err := c.Create(context.Background(), []string{"tank/media"})
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the config after the checkpoint
	if err := os.WriteFile(confPath, []byte("clobbered"), 0o644); err != nil {
		t.Fatal(err)
	}

	report := c.Rollback(context.Background(), cp, false)
	if !report.OK {
		t.Fatalf("Expected clean rollback, got %+v", report)
	}
	if len(vol.rollbacks) != 1 {
		t.Errorf("Expected 1 snapshot rollback, got %v", vol.rollbacks)
	}
	restored, err := os.ReadFile(confPath)
	if err != nil || string(restored) != "original" {
		t.Errorf("Expected config restored to original, got %q (err=%v)", restored, err)
	}
}

func TestController_Rollback_PartialFailureReportedPerResource(t *testing.T) {
	vol := newFakeVolume("tank/a", "tank/b")
	vol.rollbackErr["tank/b"] = fmt.Errorf("snapshot destroyed")
	c := NewController(vol, nil, t.TempDir(), zerolog.Nop())

	cp, err := c.Create(context.Background(), []string{"tank/a", "tank/b"})
	if err != nil {
		t.Fatal(err)
	}

	report := c.Rollback(context.Background(), cp, false)
	if report.OK {
		t.Fatal("Expected partial failure")
	}
	if len(report.Steps) != 2 {
		t.Fatalf("Expected a step per volume, got %+v", report.Steps)
	}
	var failed *RollbackStep
	for i := range report.Steps {
		if !report.Steps[i].OK {
			failed = &report.Steps[i]
		}
	}
	if failed == nil || failed.Resource != "tank/b" {
		t.Errorf("Expected tank/b to be the failing step, got %+v", report.Steps)
	}
}

func TestController_SaveLoadList(t *testing.T) {
	dir := t.TempDir()
	vol := newFakeVolume("tank/media")
	c := NewController(vol, nil, dir, zerolog.Nop())

	cp, err := c.Create(context.Background(), []string{"tank/media"})
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := c.Load(cp.ID)
	if err != nil {
		t.Fatalf("Expected manifest to load, got: %v", err)
	}
	if loaded.ID != cp.ID || loaded.Snapshots["tank/media"] != cp.Snapshots["tank/media"] {
		t.Errorf("Expected round-tripped checkpoint, got %+v", loaded)
	}

	ids, err := c.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != cp.ID {
		t.Errorf("Expected [%s], got %v", cp.ID, ids)
	}
}
