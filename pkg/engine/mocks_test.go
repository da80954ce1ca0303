package engine

import (
	"context"
	"fmt"

	"github.com/openhearth/hearth/pkg/drivers"
)

// Mock implementations for testing

type fakeVolume struct {
	volumes     map[string]drivers.VolumeProperties
	failCreate  map[string]error
	createCalls []string
	created     map[string]bool
	rollbacks   []string
}

func newFakeVolume() *fakeVolume {
	return &fakeVolume{
		volumes:    map[string]drivers.VolumeProperties{},
		failCreate: map[string]error{},
		created:    map[string]bool{},
	}
}

func (f *fakeVolume) List(_ context.Context, pool string) (map[string]drivers.VolumeProperties, error) {
	out := map[string]drivers.VolumeProperties{}
	for path, props := range f.volumes {
		out[path] = props
	}
	return out, nil
}

func (f *fakeVolume) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.volumes[path]
	return ok, nil
}

func (f *fakeVolume) CreateOrSync(_ context.Context, path string, props drivers.VolumeProperties) (bool, error) {
	f.createCalls = append(f.createCalls, path)
	if err := f.failCreate[path]; err != nil {
		return false, err
	}
	_, existed := f.volumes[path]
	if f.volumes[path] == nil {
		f.volumes[path] = drivers.VolumeProperties{}
	}
	for k, v := range props {
		f.volumes[path][k] = v
	}
	f.created[path] = !existed
	return !existed, nil
}

func (f *fakeVolume) SetProperty(_ context.Context, path, key, value string) error {
	if f.volumes[path] == nil {
		return fmt.Errorf("volume not found: %s", path)
	}
	f.volumes[path][key] = value
	return nil
}

func (f *fakeVolume) Snapshot(_ context.Context, paths []string, name string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range paths {
		if _, ok := f.volumes[p]; ok {
			out[p] = p + "@" + name
		}
	}
	return out, nil
}

func (f *fakeVolume) Rollback(_ context.Context, path, snapshotID string, _ bool) error {
	f.rollbacks = append(f.rollbacks, snapshotID)
	return nil
}

type fakeCompute struct {
	containers  []drivers.ContainerInfo
	attachments map[int]map[string]drivers.MountInfo
	listErr     error
	createErr   error
	createFails int
	startErr    error
	mountErr    error
	nextID      int
	createCalls int
	started     []int
	mountCalls  []string
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{
		attachments: map[int]map[string]drivers.MountInfo{},
		nextID:      200,
	}
}

func (f *fakeCompute) List(_ context.Context) ([]drivers.ContainerInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]drivers.ContainerInfo{}, f.containers...), nil
}

func (f *fakeCompute) Exists(_ context.Context, id int) (bool, error) {
	for _, c := range f.containers {
		if c.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCompute) Create(_ context.Context, spec drivers.ContainerCreateSpec) (int, error) {
	f.createCalls++
	if f.createFails > 0 {
		f.createFails--
		return 0, fmt.Errorf("template download failed")
	}
	if f.createErr != nil {
		return 0, f.createErr
	}
	id := spec.ID
	if id == 0 {
		id = f.nextID
		f.nextID++
	}
	f.containers = append(f.containers, drivers.ContainerInfo{ID: id, Name: spec.Name, Status: "stopped"})
	return id, nil
}

func (f *fakeCompute) Start(_ context.Context, id int) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, id)
	return nil
}

func (f *fakeCompute) Mount(_ context.Context, id int, hostPath, containerPath string, readonly bool) error {
	if f.mountErr != nil {
		return f.mountErr
	}
	f.mountCalls = append(f.mountCalls, fmt.Sprintf("%d:%s->%s ro=%v", id, hostPath, containerPath, readonly))
	mounts := f.attachments[id]
	if mounts == nil {
		mounts = map[string]drivers.MountInfo{}
		f.attachments[id] = mounts
	}
	mounts[fmt.Sprintf("mp%d", len(mounts))] = drivers.MountInfo{Source: hostPath, Target: containerPath, ReadOnly: readonly}
	return nil
}

func (f *fakeCompute) Attachments(_ context.Context, id int) (map[string]drivers.MountInfo, error) {
	return f.attachments[id], nil
}

type fakeShare struct {
	existing map[string]drivers.ShareConfig
	addErr   error
	added    map[string]drivers.ShareConfig
}

func newFakeShare() *fakeShare {
	return &fakeShare{
		existing: map[string]drivers.ShareConfig{},
		added:    map[string]drivers.ShareConfig{},
	}
}

func (f *fakeShare) ParseExisting(_ context.Context) (map[string]drivers.ShareConfig, error) {
	return f.existing, nil
}

func (f *fakeShare) AddOrUpdate(_ context.Context, name, path string, cfg drivers.ShareConfig) error {
	if f.addErr != nil {
		return f.addErr
	}
	merged := drivers.ShareConfig{"path": path}
	for k, v := range cfg {
		merged[k] = v
	}
	f.added[name] = merged
	return nil
}

func (f *fakeShare) ConfigFiles() []string {
	return nil
}

type fakeResolver struct {
	readonly map[string]bool
	shareCfg map[string]drivers.ShareConfig
	mode     int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		readonly: map[string]bool{},
		shareCfg: map[string]drivers.ShareConfig{},
		mode:     0o755,
	}
}

func (f *fakeResolver) MountReadonly(volume, computeName string) bool {
	return f.readonly[volume+"|"+computeName]
}

func (f *fakeResolver) ShareConfig(volume, shareName string) drivers.ShareConfig {
	return f.shareCfg[volume+"|"+shareName]
}

func (f *fakeResolver) BasePermissionMode(string) int {
	return f.mode
}

type fakeLedger struct {
	managed       map[string]bool
	createdByTool map[string]bool
	external      []string
	containers    []int
	mounts        []string
	mountCreated  []bool
	shares        []string
	markErr       error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		managed:       map[string]bool{},
		createdByTool: map[string]bool{},
	}
}

func (f *fakeLedger) MarkVolumeManaged(path string, created bool) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.managed[path] = true
	if created {
		f.createdByTool[path] = true
	}
	return nil
}

func (f *fakeLedger) MarkExternalVolume(path string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.external = append(f.external, path)
	return nil
}

func (f *fakeLedger) MarkContainerManaged(id int, name, template string, created bool, mounts []string) error {
	f.containers = append(f.containers, id)
	return nil
}

func (f *fakeLedger) MarkMountManaged(containerID int, mountPath, dataset string, created bool) error {
	f.mounts = append(f.mounts, fmt.Sprintf("%d:%s", containerID, mountPath))
	f.mountCreated = append(f.mountCreated, created)
	return nil
}

func (f *fakeLedger) MarkShareManaged(protocol, name, volume string, created bool) error {
	f.shares = append(f.shares, protocol+"/"+name)
	return nil
}

func (f *fakeLedger) WasCreatedByTool(path string) bool {
	return f.createdByTool[path]
}

func (f *fakeLedger) IsVolumeManaged(path string) bool {
	return f.managed[path]
}
