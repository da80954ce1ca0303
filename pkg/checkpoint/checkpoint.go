// Package checkpoint creates pre-apply recovery bundles (point-in-time
// volume snapshots plus share-config file backups) and rolls the system
// back to them after a failed apply.
package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openhearth/hearth/pkg/drivers"
)

// Checkpoint is a point-in-time recovery bundle. Created before an apply
// run, consumed only by rollback, never auto-deleted.
type Checkpoint struct {
	// ID is the checkpoint identifier, also used as the snapshot name.
	ID string `yaml:"id"`

	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `yaml:"timestamp"`

	// Datasets are the volume paths that were snapshotted.
	Datasets []string `yaml:"datasets"`

	// Snapshots maps volume path to snapshot identifier.
	Snapshots map[string]string `yaml:"snapshots"`

	// ConfigBackups maps original config file path to its backup copy.
	ConfigBackups map[string]string `yaml:"config_backups,omitempty"`
}

// RollbackStep is the per-resource outcome of a rollback.
type RollbackStep struct {
	// Resource is the volume path or config file being restored.
	Resource string `yaml:"resource" json:"resource"`

	// OK indicates the step succeeded.
	OK bool `yaml:"ok" json:"ok"`

	// Message carries the failure detail when OK is false.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// RollbackReport is the full outcome of a rollback attempt. OK is true
// only when every sub-step succeeded; partial failure is reported
// per-resource so the operator knows what still needs manual correction.
type RollbackReport struct {
	OK    bool           `json:"ok"`
	Steps []RollbackStep `json:"steps"`
}

// Controller creates and restores checkpoints.
type Controller struct {
	volumes drivers.Volume
	shares  drivers.Share
	dir     string
	logger  zerolog.Logger
}

// NewController creates a checkpoint controller. dir is where checkpoint
// manifests and config backups are kept.
func NewController(volumes drivers.Volume, shares drivers.Share, dir string, logger zerolog.Logger) *Controller {
	return &Controller{
		volumes: volumes,
		shares:  shares,
		dir:     dir,
		logger:  logger.With().Str("component", "checkpoint").Logger(),
	}
}

// Create takes a checkpoint covering the given volumes. Volumes that do
// not exist yet are skipped (there is nothing to roll back for them).
// Failure to snapshot a single volume is logged and does not abort the
// rest; a missing share-config file is not an error.
func (c *Controller) Create(ctx context.Context, volumePaths []string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:            "hearth-cp-" + uuid.New().String()[:8],
		Timestamp:     time.Now(),
		Snapshots:     make(map[string]string),
		ConfigBackups: make(map[string]string),
	}

	existing := make([]string, 0, len(volumePaths))
	for _, path := range volumePaths {
		ok, err := c.volumes.Exists(ctx, path)
		if err != nil {
			c.logger.Warn().Err(err).Str("volume", path).Msg("existence check failed, skipping snapshot")
			continue
		}
		if ok {
			existing = append(existing, path)
		}
	}

	if len(existing) > 0 {
		snaps, err := c.volumes.Snapshot(ctx, existing, cp.ID)
		if err != nil {
			// Snapshot is all-or-nothing per driver call; retry per volume
			// so one refusing volume does not void the whole checkpoint.
			c.logger.Warn().Err(err).Msg("bulk snapshot failed, snapshotting volumes individually")
			for _, path := range existing {
				single, serr := c.volumes.Snapshot(ctx, []string{path}, cp.ID)
				if serr != nil {
					c.logger.Error().Err(serr).Str("volume", path).Msg("snapshot failed")
					continue
				}
				for p, id := range single {
					cp.Snapshots[p] = id
				}
			}
		} else {
			cp.Snapshots = snaps
		}
	}
	for path := range cp.Snapshots {
		cp.Datasets = append(cp.Datasets, path)
	}

	if c.shares != nil {
		for _, file := range c.shares.ConfigFiles() {
			backup, err := c.backupFile(file, cp.ID)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				c.logger.Warn().Err(err).Str("file", file).Msg("config backup failed")
				continue
			}
			cp.ConfigBackups[file] = backup
		}
	}

	if err := c.save(cp); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	c.logger.Info().
		Str("checkpoint", cp.ID).
		Int("snapshots", len(cp.Snapshots)).
		Int("config_backups", len(cp.ConfigBackups)).
		Msg("checkpoint created")
	return cp, nil
}

// Rollback restores every recorded snapshot and config backup. force is
// passed through to the volume driver, allowing it to discard snapshots
// newer than the checkpoint.
func (c *Controller) Rollback(ctx context.Context, cp *Checkpoint, force bool) *RollbackReport {
	report := &RollbackReport{OK: true}

	for path, snapID := range cp.Snapshots {
		step := RollbackStep{Resource: path, OK: true}
		if err := c.volumes.Rollback(ctx, path, snapID, force); err != nil {
			step.OK = false
			step.Message = err.Error()
			report.OK = false
			c.logger.Error().Err(err).Str("volume", path).Msg("snapshot rollback failed")
		}
		report.Steps = append(report.Steps, step)
	}

	for original, backup := range cp.ConfigBackups {
		step := RollbackStep{Resource: original, OK: true}
		if err := copyFile(backup, original); err != nil {
			step.OK = false
			step.Message = err.Error()
			report.OK = false
			c.logger.Error().Err(err).Str("file", original).Msg("config restore failed")
		}
		report.Steps = append(report.Steps, step)
	}

	if report.OK {
		c.logger.Info().Str("checkpoint", cp.ID).Msg("rollback completed")
	}
	return report
}

// Load reads a persisted checkpoint manifest by id.
func (c *Controller) Load(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(c.manifestPath(id))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns the ids of persisted checkpoints, newest last.
func (c *Controller) List() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".yaml")])
	}
	return ids, nil
}

func (c *Controller) manifestPath(id string) string {
	return filepath.Join(c.dir, id+".yaml")
}

func (c *Controller) save(cp *Checkpoint) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cp)
	if err != nil {
		return err
	}
	return os.WriteFile(c.manifestPath(cp.ID), data, 0o644)
}

// backupFile copies file into the checkpoint directory under the
// checkpoint id.
func (c *Controller) backupFile(file, cpID string) (string, error) {
	if _, err := os.Stat(file); err != nil {
		return "", err
	}
	backupDir := filepath.Join(c.dir, cpID)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}
	backup := filepath.Join(backupDir, filepath.Base(file))
	if err := copyFile(file, backup); err != nil {
		return "", err
	}
	return backup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
