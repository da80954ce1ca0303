// Package devsim provides file-backed driver implementations for local
// development and demos. All three subsystems are simulated in a single
// JSON state file under a data directory; no live system is touched.
// Production deployments plug real drivers in at the same interfaces.
package devsim

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/openhearth/hearth/pkg/drivers"
)

// worldState is the persisted simulator state.
type worldState struct {
	Volumes    map[string]drivers.VolumeProperties   `json:"volumes"`
	Snapshots  map[string]drivers.VolumeProperties   `json:"snapshots"`
	Containers []drivers.ContainerInfo               `json:"containers"`
	Mounts     map[int]map[string]drivers.MountInfo  `json:"mounts"`
	Shares     map[string]drivers.ShareConfig        `json:"shares"`
	NextID     int                                   `json:"next_id"`
}

// World is the shared simulator backing all three drivers.
type World struct {
	mu    sync.Mutex
	path  string
	state worldState
}

// Open loads or initializes the simulator state file in dir.
func Open(dir string) (*World, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	w := &World{path: filepath.Join(dir, "devsim.json")}
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		w.state = worldState{NextID: 100}
		w.ensureMaps()
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read simulator state: %w", err)
	}
	if err := json.Unmarshal(data, &w.state); err != nil {
		return nil, fmt.Errorf("failed to parse simulator state: %w", err)
	}
	w.ensureMaps()
	return w, nil
}

func (w *World) ensureMaps() {
	if w.state.Volumes == nil {
		w.state.Volumes = map[string]drivers.VolumeProperties{}
	}
	if w.state.Snapshots == nil {
		w.state.Snapshots = map[string]drivers.VolumeProperties{}
	}
	if w.state.Mounts == nil {
		w.state.Mounts = map[int]map[string]drivers.MountInfo{}
	}
	if w.state.Shares == nil {
		w.state.Shares = map[string]drivers.ShareConfig{}
	}
	if w.state.NextID == 0 {
		w.state.NextID = 100
	}
}

func (w *World) save() error {
	data, err := json.MarshalIndent(&w.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode simulator state: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write simulator state: %w", err)
	}
	return nil
}

// Volume returns the volume driver view of the world.
func (w *World) Volume() drivers.Volume { return (*volumeDriver)(w) }

// Compute returns the compute driver view of the world.
func (w *World) Compute() drivers.Compute { return (*computeDriver)(w) }

// Share returns the share driver view of the world.
func (w *World) Share() drivers.Share { return (*shareDriver)(w) }

type volumeDriver World

func (d *volumeDriver) List(_ context.Context, pool string) (map[string]drivers.VolumeProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := map[string]drivers.VolumeProperties{}
	prefix := pool + "/"
	for path, props := range d.state.Volumes {
		if path == pool || strings.HasPrefix(path, prefix) {
			cp := drivers.VolumeProperties{}
			for k, v := range props {
				cp[k] = v
			}
			out[path] = cp
		}
	}
	return out, nil
}

func (d *volumeDriver) Exists(_ context.Context, path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.state.Volumes[path]
	return ok, nil
}

func (d *volumeDriver) CreateOrSync(_ context.Context, path string, props drivers.VolumeProperties) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.state.Volumes[path]
	if !ok {
		existing = drivers.VolumeProperties{}
		d.state.Volumes[path] = existing
	}
	for k, v := range props {
		existing[k] = v
	}
	return !ok, (*World)(d).save()
}

func (d *volumeDriver) SetProperty(_ context.Context, path, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	props, ok := d.state.Volumes[path]
	if !ok {
		return fmt.Errorf("volume not found: %s", path)
	}
	props[key] = value
	return (*World)(d).save()
}

func (d *volumeDriver) Snapshot(_ context.Context, paths []string, name string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := map[string]string{}
	for _, path := range paths {
		props, ok := d.state.Volumes[path]
		if !ok {
			continue
		}
		id := path + "@" + name
		cp := drivers.VolumeProperties{}
		for k, v := range props {
			cp[k] = v
		}
		d.state.Snapshots[id] = cp
		out[path] = id
	}
	return out, (*World)(d).save()
}

func (d *volumeDriver) Rollback(_ context.Context, path, snapshotID string, _ bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, ok := d.state.Snapshots[snapshotID]
	if !ok {
		return fmt.Errorf("snapshot not found: %s", snapshotID)
	}
	cp := drivers.VolumeProperties{}
	for k, v := range snap {
		cp[k] = v
	}
	d.state.Volumes[path] = cp
	return (*World)(d).save()
}

type computeDriver World

func (d *computeDriver) List(_ context.Context) ([]drivers.ContainerInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]drivers.ContainerInfo{}, d.state.Containers...), nil
}

func (d *computeDriver) Exists(_ context.Context, id int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.state.Containers {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (d *computeDriver) Create(_ context.Context, spec drivers.ContainerCreateSpec) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := spec.ID
	if id == 0 {
		id = d.state.NextID
		d.state.NextID++
	}
	d.state.Containers = append(d.state.Containers, drivers.ContainerInfo{
		ID:     id,
		Name:   spec.Name,
		Status: "stopped",
	})
	return id, (*World)(d).save()
}

func (d *computeDriver) Start(_ context.Context, id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, c := range d.state.Containers {
		if c.ID == id {
			d.state.Containers[i].Status = "running"
			return (*World)(d).save()
		}
	}
	return fmt.Errorf("container not found: %d", id)
}

func (d *computeDriver) Mount(_ context.Context, id int, hostPath, containerPath string, readonly bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	found := false
	for _, c := range d.state.Containers {
		if c.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("container not found: %d", id)
	}

	mounts := d.state.Mounts[id]
	if mounts == nil {
		mounts = map[string]drivers.MountInfo{}
		d.state.Mounts[id] = mounts
	}
	key := fmt.Sprintf("mp%d", len(mounts))
	mounts[key] = drivers.MountInfo{
		Source:   hostPath,
		Target:   containerPath,
		ReadOnly: readonly,
	}
	return (*World)(d).save()
}

func (d *computeDriver) Attachments(_ context.Context, id int) (map[string]drivers.MountInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := map[string]drivers.MountInfo{}
	for k, v := range d.state.Mounts[id] {
		out[k] = v
	}
	return out, nil
}

type shareDriver World

func (d *shareDriver) ParseExisting(_ context.Context) (map[string]drivers.ShareConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := map[string]drivers.ShareConfig{}
	for name, cfg := range d.state.Shares {
		cp := drivers.ShareConfig{}
		for k, v := range cfg {
			cp[k] = v
		}
		out[name] = cp
	}
	return out, nil
}

func (d *shareDriver) AddOrUpdate(_ context.Context, name, path string, cfg drivers.ShareConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	merged := d.state.Shares[name]
	if merged == nil {
		merged = drivers.ShareConfig{}
		d.state.Shares[name] = merged
	}
	merged["path"] = path
	for k, v := range cfg {
		merged[k] = v
	}
	return (*World)(d).save()
}

func (d *shareDriver) ConfigFiles() []string {
	return []string{(*World)(d).path}
}
