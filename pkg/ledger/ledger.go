// Package ledger is the persistent ownership and idempotency record. It
// tracks which volumes, containers, mounts, and shares were created by
// the controller versus found pre-existing, independent of whatever the
// live systems currently report.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// SchemaVersion is the on-disk ledger schema version.
const SchemaVersion = 1

// DefaultRealityRetention bounds the number of retained reality
// snapshots; oldest entries are pruned beyond it.
const DefaultRealityRetention = 20

// VolumeEntry records ownership of one volume.
type VolumeEntry struct {
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// ContainerEntry records ownership of one container.
type ContainerEntry struct {
	Name          string    `json:"name"`
	Template      string    `json:"template,omitempty"`
	CreatedByTool bool      `json:"created_by_tool"`
	Mounts        []string  `json:"mounts,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// MountEntry records ownership of one mount on a container.
type MountEntry struct {
	Dataset       string    `json:"dataset"`
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// ShareEntry records ownership of one network share.
type ShareEntry struct {
	Volume        string    `json:"volume"`
	CreatedByTool bool      `json:"created_by_tool"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExternalRoster lists pre-existing resources for auditing.
type ExternalRoster struct {
	Datasets   []string `json:"datasets"`
	Containers []string `json:"containers"`
}

// RealitySnapshot is an opaque point-in-time capture of observed state,
// kept for audit with bounded retention.
type RealitySnapshot struct {
	CapturedAt time.Time `json:"captured_at"`
	Summary    string    `json:"summary"`
	Path       string    `json:"path,omitempty"`
}

// Reality holds the retained reality snapshots.
type Reality struct {
	Snapshots []RealitySnapshot `json:"snapshots"`
}

// document is the on-disk ledger layout.
type document struct {
	Version    int                        `json:"version"`
	CreatedAt  time.Time                  `json:"created_at"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	Datasets   map[string]VolumeEntry     `json:"datasets"`
	Containers map[string]ContainerEntry  `json:"containers"`
	Mounts     map[string]map[string]MountEntry `json:"mounts"`
	Shares     map[string]map[string]ShareEntry `json:"shares"`
	External   ExternalRoster             `json:"external"`
	Reality    Reality                    `json:"reality"`
}

// Stats summarizes the ledger for run reporting.
type Stats struct {
	ManagedVolumes    int `json:"managed_volumes"`
	CreatedVolumes    int `json:"created_volumes"`
	ExternalVolumes   int `json:"external_volumes"`
	ManagedContainers int `json:"managed_containers"`
	ManagedMounts     int `json:"managed_mounts"`
	ManagedShares     int `json:"managed_shares"`
}

// Ledger is the persisted ownership record. Every mutating call persists
// synchronously and atomically (temp file + rename), so the file is never
// observed half-written. The ledger is single-writer by contract; nothing
// here locks the file.
type Ledger struct {
	path             string
	doc              document
	realityRetention int
	logger           zerolog.Logger
}

// Open loads the ledger at path, creating an empty one if the file does
// not exist.
func Open(path string, logger zerolog.Logger) (*Ledger, error) {
	l := &Ledger{
		path:             path,
		realityRetention: DefaultRealityRetention,
		logger:           logger.With().Str("component", "ledger").Logger(),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		now := time.Now()
		l.doc = document{
			Version:    SchemaVersion,
			CreatedAt:  now,
			UpdatedAt:  now,
			Datasets:   make(map[string]VolumeEntry),
			Containers: make(map[string]ContainerEntry),
			Mounts:     make(map[string]map[string]MountEntry),
			Shares: map[string]map[string]ShareEntry{
				"smb": make(map[string]ShareEntry),
				"nfs": make(map[string]ShareEntry),
			},
		}
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	if err := json.Unmarshal(data, &l.doc); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if l.doc.Version > SchemaVersion {
		return nil, fmt.Errorf("ledger %s has unsupported schema version %d", path, l.doc.Version)
	}
	l.ensureMaps()
	return l, nil
}

// SetRealityRetention overrides the reality-snapshot retention bound.
func (l *Ledger) SetRealityRetention(n int) {
	if n > 0 {
		l.realityRetention = n
	}
}

func (l *Ledger) ensureMaps() {
	if l.doc.Datasets == nil {
		l.doc.Datasets = make(map[string]VolumeEntry)
	}
	if l.doc.Containers == nil {
		l.doc.Containers = make(map[string]ContainerEntry)
	}
	if l.doc.Mounts == nil {
		l.doc.Mounts = make(map[string]map[string]MountEntry)
	}
	if l.doc.Shares == nil {
		l.doc.Shares = make(map[string]map[string]ShareEntry)
	}
	for _, proto := range []string{"smb", "nfs"} {
		if l.doc.Shares[proto] == nil {
			l.doc.Shares[proto] = make(map[string]ShareEntry)
		}
	}
}

// MarkVolumeManaged records a volume as managed. created distinguishes a
// volume the controller created from one it adopted. An adopted volume
// joins the external roster; a created one leaves it, keeping every
// volume in exactly one of the two categories.
func (l *Ledger) MarkVolumeManaged(path string, created bool) error {
	l.doc.Datasets[path] = VolumeEntry{CreatedByTool: created, Timestamp: time.Now()}
	if created {
		l.doc.External.Datasets = remove(l.doc.External.Datasets, path)
	} else {
		l.doc.External.Datasets = appendUnique(l.doc.External.Datasets, path)
	}
	return l.persist()
}

// MarkExternalVolume records a pre-existing volume the controller now
// manages but did not create.
func (l *Ledger) MarkExternalVolume(path string) error {
	return l.MarkVolumeManaged(path, false)
}

// MarkContainerManaged records a container. created distinguishes
// controller-created containers from adopted ones.
func (l *Ledger) MarkContainerManaged(id int, name, template string, created bool, mounts []string) error {
	key := fmt.Sprintf("%d", id)
	now := time.Now()
	entry, ok := l.doc.Containers[key]
	if !ok {
		entry = ContainerEntry{CreatedAt: now}
	}
	entry.Name = name
	entry.Template = template
	entry.CreatedByTool = entry.CreatedByTool || created
	entry.UpdatedAt = now
	for _, m := range mounts {
		entry.Mounts = appendUnique(entry.Mounts, m)
	}
	l.doc.Containers[key] = entry

	if entry.CreatedByTool {
		l.doc.External.Containers = remove(l.doc.External.Containers, key)
	} else {
		l.doc.External.Containers = appendUnique(l.doc.External.Containers, key)
	}
	return l.persist()
}

// MarkMountManaged records a mount of a volume into a container.
func (l *Ledger) MarkMountManaged(containerID int, mountPath, dataset string, created bool) error {
	key := fmt.Sprintf("%d", containerID)
	if l.doc.Mounts[key] == nil {
		l.doc.Mounts[key] = make(map[string]MountEntry)
	}
	l.doc.Mounts[key][mountPath] = MountEntry{
		Dataset:       dataset,
		CreatedByTool: created,
		Timestamp:     time.Now(),
	}
	return l.persist()
}

// MarkShareManaged records a network share.
func (l *Ledger) MarkShareManaged(protocol, name, volume string, created bool) error {
	if l.doc.Shares[protocol] == nil {
		l.doc.Shares[protocol] = make(map[string]ShareEntry)
	}
	l.doc.Shares[protocol][name] = ShareEntry{
		Volume:        volume,
		CreatedByTool: created,
		Timestamp:     time.Now(),
	}
	return l.persist()
}

// WasCreatedByTool reports whether the controller created the volume.
func (l *Ledger) WasCreatedByTool(path string) bool {
	e, ok := l.doc.Datasets[path]
	return ok && e.CreatedByTool
}

// IsVolumeManaged reports whether the volume is tracked at all.
func (l *Ledger) IsVolumeManaged(path string) bool {
	_, ok := l.doc.Datasets[path]
	return ok
}

// IsContainerManaged reports whether the container is tracked.
func (l *Ledger) IsContainerManaged(id int) bool {
	_, ok := l.doc.Containers[fmt.Sprintf("%d", id)]
	return ok
}

// IsShareManaged reports whether the share is tracked.
func (l *Ledger) IsShareManaged(protocol, name string) bool {
	m, ok := l.doc.Shares[protocol]
	if !ok {
		return false
	}
	_, ok = m[name]
	return ok
}

// ExternalVolumes returns the audited pre-existing volume paths.
func (l *Ledger) ExternalVolumes() []string {
	out := make([]string, len(l.doc.External.Datasets))
	copy(out, l.doc.External.Datasets)
	return out
}

// GetStats summarizes the ledger.
func (l *Ledger) GetStats() Stats {
	s := Stats{
		ManagedVolumes:    len(l.doc.Datasets),
		ExternalVolumes:   len(l.doc.External.Datasets),
		ManagedContainers: len(l.doc.Containers),
	}
	for _, e := range l.doc.Datasets {
		if e.CreatedByTool {
			s.CreatedVolumes++
		}
	}
	for _, mounts := range l.doc.Mounts {
		s.ManagedMounts += len(mounts)
	}
	for _, shares := range l.doc.Shares {
		s.ManagedShares += len(shares)
	}
	return s
}

// RecordReality appends a reality snapshot and prunes beyond the
// retention bound.
func (l *Ledger) RecordReality(summary, path string) error {
	l.doc.Reality.Snapshots = append(l.doc.Reality.Snapshots, RealitySnapshot{
		CapturedAt: time.Now(),
		Summary:    summary,
		Path:       path,
	})
	if n := len(l.doc.Reality.Snapshots); n > l.realityRetention {
		l.doc.Reality.Snapshots = l.doc.Reality.Snapshots[n-l.realityRetention:]
	}
	return l.persist()
}

// RealitySnapshots returns the retained reality snapshots, oldest first.
func (l *Ledger) RealitySnapshots() []RealitySnapshot {
	out := make([]RealitySnapshot, len(l.doc.Reality.Snapshots))
	copy(out, l.doc.Reality.Snapshots)
	return out
}

// persist writes the ledger atomically: marshal to a temp file in the
// same directory, fsync, then rename over the real file. A crash between
// two Mark calls can lose the second update, never half of one.
func (l *Ledger) persist() error {
	l.doc.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(&l.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
