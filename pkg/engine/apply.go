package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/drivers"
	"github.com/openhearth/hearth/pkg/state"
)

// AccessResolver answers access questions for mutation time. Implemented
// by the permission resolver.
type AccessResolver interface {
	// MountReadonly decides whether a compute mount must be read-only.
	MountReadonly(volume, computeName string) bool

	// ShareConfig derives the share-config fragment for a share.
	ShareConfig(volume, shareName string) drivers.ShareConfig

	// BasePermissionMode returns the owner-level permission mode.
	BasePermissionMode(volume string) int
}

// Ledger is the ownership record the applicator updates after each
// successful operation.
type Ledger interface {
	MarkVolumeManaged(path string, created bool) error
	MarkExternalVolume(path string) error
	MarkContainerManaged(id int, name, template string, created bool, mounts []string) error
	MarkMountManaged(containerID int, mountPath, dataset string, created bool) error
	MarkShareManaged(protocol, name, volume string, created bool) error
	WasCreatedByTool(path string) bool
	IsVolumeManaged(path string) bool
}

// Options bounds driver calls. Zero values fall back to defaults.
type Options struct {
	// VolumeTimeout bounds a single volume create-or-sync call.
	VolumeTimeout time.Duration

	// ContainerCreateTimeout bounds container creation, template download
	// included.
	ContainerCreateTimeout time.Duration

	// ContainerStartTimeout bounds container boot.
	ContainerStartTimeout time.Duration

	// MountTimeout bounds a single mount call.
	MountTimeout time.Duration

	// ShareTimeout bounds a single share update.
	ShareTimeout time.Duration

	// Retry caps retries for container creation. Other operations are
	// never retried automatically.
	Retry RetryPolicy
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.VolumeTimeout == 0 {
		out.VolumeTimeout = 60 * time.Second
	}
	if out.ContainerCreateTimeout == 0 {
		out.ContainerCreateTimeout = 600 * time.Second
	}
	if out.ContainerStartTimeout == 0 {
		out.ContainerStartTimeout = 30 * time.Second
	}
	if out.MountTimeout == 0 {
		out.MountTimeout = 10 * time.Second
	}
	if out.ShareTimeout == 0 {
		out.ShareTimeout = 10 * time.Second
	}
	if out.Retry.Attempts == 0 {
		out.Retry = DefaultRetryPolicy()
	}
	return out
}

// Applicator executes a change list against the driver collaborators in
// a fixed per-volume order: the volume itself, then its compute
// attachments, then its shares. It never issues a destructive driver
// call; there is no delete code path.
type Applicator struct {
	volumes  drivers.Volume
	compute  drivers.Compute
	shares   drivers.Share
	resolver AccessResolver
	ledger   Ledger
	opts     Options
	logger   zerolog.Logger
}

// NewApplicator creates an applicator. compute and shares may be nil
// when the respective subsystems are absent; attachments and shares are
// then reported as failed-to-resolve rather than applied.
func NewApplicator(
	volumes drivers.Volume,
	compute drivers.Compute,
	shares drivers.Share,
	resolver AccessResolver,
	ledger Ledger,
	opts Options,
	logger zerolog.Logger,
) *Applicator {
	return &Applicator{
		volumes:  volumes,
		compute:  compute,
		shares:   shares,
		resolver: resolver,
		ledger:   ledger,
		opts:     opts.withDefaults(),
		logger:   logger.With().Str("component", "applicator").Logger(),
	}
}

// Apply executes the diff against the live systems. Failures are
// isolated per resource: a failed attachment or share does not abort the
// run, and a failed volume only skips its own dependents.
func (a *Applicator) Apply(ctx context.Context, desired *state.DesiredState, diff *DiffResult) *ApplyReport {
	report := &ApplyReport{StartedAt: time.Now()}

	changeByPath := make(map[string]*Change, len(diff.Changes))
	for i := range diff.Changes {
		changeByPath[diff.Changes[i].Path] = &diff.Changes[i]
	}

	// Attachment verdicts, grouped per volume in declaration order. The
	// differ walks the same paths in the same order, so positions align.
	ccByVolume := make(map[string][]*ContainerChange)
	for i := range diff.ContainerChanges {
		cc := &diff.ContainerChanges[i]
		ccByVolume[cc.VolumePath] = append(ccByVolume[cc.VolumePath], cc)
	}

	liveContainers := a.listContainers(ctx)
	existingShares := a.listShares(ctx)

	for _, path := range desired.Paths() {
		spec := desired.Get(path)

		volumeOK := a.applyVolume(ctx, report, path, spec, changeByPath[path])
		if !volumeOK {
			a.skipDependents(report, path, spec)
			continue
		}

		verdicts := ccByVolume[path]
		for i := range spec.Containers {
			var cc *ContainerChange
			if i < len(verdicts) {
				cc = verdicts[i]
			}
			a.applyAttachment(ctx, report, path, &spec.Containers[i], cc, liveContainers)
		}
		for i := range spec.Shares {
			a.applyShare(ctx, report, path, &spec.Shares[i], existingShares)
		}
	}

	report.CompletedAt = time.Now()
	return report
}

// applyVolume applies one volume's create-or-sync step and records
// ownership. Returns false when dependents must be skipped.
func (a *Applicator) applyVolume(ctx context.Context, report *ApplyReport, path string, spec *state.VolumeSpec, change *Change) bool {
	if change == nil {
		// Already in the desired state. Make sure the ledger still tracks
		// it so adopted volumes show up in the external roster.
		if !a.ledger.IsVolumeManaged(path) {
			if err := a.ledger.MarkExternalVolume(path); err != nil {
				a.logger.Error().Err(err).Str("volume", path).Msg("ledger persist failed")
			}
		}
		report.add(ApplyResult{
			Kind:     ResourceVolume,
			Resource: path,
			Status:   ResultOK,
			Message:  "in sync",
		})
		return true
	}

	props := make(drivers.VolumeProperties, len(change.Props)+1)
	for k, delta := range change.Props {
		props[k] = delta.New
	}
	if len(spec.Containers) > 0 || len(spec.Shares) > 0 {
		props["mode"] = fmt.Sprintf("%04o", a.resolver.BasePermissionMode(path))
	}

	cctx, cancel := context.WithTimeout(ctx, a.opts.VolumeTimeout)
	created, err := a.volumes.CreateOrSync(cctx, path, props)
	cancel()
	if err != nil {
		a.logger.Error().Err(err).Str("volume", path).Msg("volume apply failed")
		report.add(ApplyResult{
			Kind:     ResourceVolume,
			Resource: path,
			Status:   ResultFailed,
			Message:  err.Error(),
		})
		return false
	}

	if created {
		a.markLedger(path, func() error { return a.ledger.MarkVolumeManaged(path, true) })
	} else if !a.ledger.WasCreatedByTool(path) {
		a.markLedger(path, func() error { return a.ledger.MarkExternalVolume(path) })
	}

	msg := "synced"
	if created {
		msg = "created"
	}
	a.logger.Info().Str("volume", path).Bool("created", created).Msg("volume applied")
	report.add(ApplyResult{
		Kind:     ResourceVolume,
		Resource: path,
		Status:   ResultOK,
		Created:  created,
		Message:  msg,
	})
	return true
}

// applyAttachment resolves the target container, creates it when asked
// to, and mounts the volume. An exists-ok verdict from the diff means
// the mount already exists; it is recorded, never re-issued.
func (a *Applicator) applyAttachment(
	ctx context.Context,
	report *ApplyReport,
	volumePath string,
	cs *state.ContainerSpec,
	cc *ContainerChange,
	live map[string]drivers.ContainerInfo,
) {
	if a.compute == nil {
		report.add(ApplyResult{
			Kind:     ResourceMount,
			Resource: fmt.Sprintf("%s -> %s", volumePath, cs.Identity()),
			Status:   ResultSkipped,
			Message:  "no compute driver configured",
		})
		return
	}

	target, found := a.resolveContainer(cs, live)

	if found && cc != nil && cc.Kind == ContainerChangeExistsOK {
		a.recordExistingMount(report, volumePath, cs, target)
		return
	}
	if found && cc == nil && a.alreadyMounted(ctx, target.ID, volumePath) {
		// No verdict for this attachment (attachment diffing was skipped
		// this run); probe before mounting.
		a.recordExistingMount(report, volumePath, cs, target)
		return
	}

	createdContainer := false

	if !found {
		if !cs.AutoCreate {
			report.add(ApplyResult{
				Kind:     ResourceContainer,
				Resource: cs.Identity(),
				Status:   ResultSkipped,
				Message:  "not found, creation not requested",
			})
			return
		}

		id, err := a.createContainer(ctx, cs)
		if err != nil {
			a.logger.Error().Err(err).Str("container", cs.Identity()).Msg("container create failed")
			report.add(ApplyResult{
				Kind:     ResourceContainer,
				Resource: cs.Identity(),
				Status:   ResultFailed,
				Message:  err.Error(),
			})
			return
		}
		target = drivers.ContainerInfo{ID: id, Name: cs.Name}
		live[fmt.Sprintf("id:%d", id)] = target
		if cs.Name != "" {
			live[fmt.Sprintf("name:%s", cs.Name)] = target
		}
		createdContainer = true
		report.add(ApplyResult{
			Kind:     ResourceContainer,
			Resource: cs.Identity(),
			Status:   ResultOK,
			Created:  true,
			Message:  "created from " + cs.Template,
		})
	}

	name := cs.Name
	if name == "" {
		name = target.Name
	}
	readonly := a.resolver.MountReadonly(volumePath, name)

	mctx, cancel := context.WithTimeout(ctx, a.opts.MountTimeout)
	err := a.compute.Mount(mctx, target.ID, "/mnt/"+volumePath, cs.Attachment.MountPath, readonly)
	cancel()
	if err != nil {
		a.logger.Error().Err(err).
			Str("volume", volumePath).
			Int("container", target.ID).
			Msg("mount failed")
		report.add(ApplyResult{
			Kind:     ResourceMount,
			Resource: fmt.Sprintf("%s -> %s:%s", volumePath, cs.Identity(), cs.Attachment.MountPath),
			Status:   ResultFailed,
			Message:  err.Error(),
		})
		return
	}

	a.markLedger(volumePath, func() error {
		return a.ledger.MarkContainerManaged(target.ID, name, cs.Template, createdContainer, []string{cs.Attachment.MountPath})
	})
	a.markLedger(volumePath, func() error {
		return a.ledger.MarkMountManaged(target.ID, cs.Attachment.MountPath, volumePath, true)
	})

	a.logger.Info().
		Str("volume", volumePath).
		Int("container", target.ID).
		Bool("readonly", readonly).
		Msg("volume mounted")
	report.add(ApplyResult{
		Kind:     ResourceMount,
		Resource: fmt.Sprintf("%s -> %s:%s", volumePath, cs.Identity(), cs.Attachment.MountPath),
		Status:   ResultOK,
		Message:  fmt.Sprintf("mounted readonly=%v", readonly),
	})
}

// recordExistingMount records ownership of a mount that predates this
// run. The container and mount enter the ledger as managed but not
// tool-created; no driver call is made.
func (a *Applicator) recordExistingMount(report *ApplyReport, volumePath string, cs *state.ContainerSpec, target drivers.ContainerInfo) {
	name := cs.Name
	if name == "" {
		name = target.Name
	}
	a.markLedger(volumePath, func() error {
		return a.ledger.MarkContainerManaged(target.ID, name, cs.Template, false, []string{cs.Attachment.MountPath})
	})
	a.markLedger(volumePath, func() error {
		return a.ledger.MarkMountManaged(target.ID, cs.Attachment.MountPath, volumePath, false)
	})
	report.add(ApplyResult{
		Kind:     ResourceMount,
		Resource: fmt.Sprintf("%s -> %s:%s", volumePath, cs.Identity(), cs.Attachment.MountPath),
		Status:   ResultOK,
		Message:  "already mounted",
	})
}

// alreadyMounted reports whether the container currently mounts the
// volume. An attachment-read failure counts as not mounted; the mount
// is then issued as usual.
func (a *Applicator) alreadyMounted(ctx context.Context, id int, volumePath string) bool {
	mounts, err := a.compute.Attachments(ctx, id)
	if err != nil {
		return false
	}
	for _, m := range mounts {
		if m.Source == "/mnt/"+volumePath || m.Source == volumePath {
			return true
		}
	}
	return false
}

// applyShare configures one network share.
func (a *Applicator) applyShare(
	ctx context.Context,
	report *ApplyReport,
	volumePath string,
	ss *state.ShareSpec,
	existing map[string]drivers.ShareConfig,
) {
	if a.shares == nil {
		report.add(ApplyResult{
			Kind:     ResourceShare,
			Resource: ss.Name,
			Status:   ResultSkipped,
			Message:  "no share driver configured",
		})
		return
	}

	cfg := a.resolver.ShareConfig(volumePath, ss.Name)
	if len(cfg) == 0 {
		cfg = drivers.ShareConfig{"path": "/mnt/" + volumePath}
	}

	_, present := existing[ss.Name]

	sctx, cancel := context.WithTimeout(ctx, a.opts.ShareTimeout)
	err := a.shares.AddOrUpdate(sctx, ss.Name, "/mnt/"+volumePath, cfg)
	cancel()
	if err != nil {
		a.logger.Error().Err(err).Str("share", ss.Name).Msg("share apply failed")
		report.add(ApplyResult{
			Kind:     ResourceShare,
			Resource: ss.Name,
			Status:   ResultFailed,
			Message:  err.Error(),
		})
		return
	}

	a.markLedger(volumePath, func() error {
		return a.ledger.MarkShareManaged(string(ss.Protocol), ss.Name, volumePath, !present)
	})

	msg := "updated"
	if !present {
		msg = "created"
	}
	a.logger.Info().Str("share", ss.Name).Str("protocol", string(ss.Protocol)).Msg("share applied")
	report.add(ApplyResult{
		Kind:     ResourceShare,
		Resource: ss.Name,
		Status:   ResultOK,
		Created:  !present,
		Message:  msg,
	})
}

// createContainer creates and starts a container, retrying creation per
// the retry policy (template retrieval is network-flavored).
func (a *Applicator) createContainer(ctx context.Context, cs *state.ContainerSpec) (int, error) {
	var id int
	err := a.opts.Retry.retry(ctx, func() error {
		cctx, cancel := context.WithTimeout(ctx, a.opts.ContainerCreateTimeout)
		defer cancel()
		var cerr error
		id, cerr = a.compute.Create(cctx, drivers.ContainerCreateSpec{
			ID:       cs.ID,
			Name:     cs.Name,
			Template: cs.Template,
			Limits:   cs.Limits,
		})
		return cerr
	})
	if err != nil {
		return 0, NewDriverError("create container", err).
			WithResource(cs.Identity()).
			WithOperation("compute.create").
			WithCode(ErrCodeDriverFailed)
	}

	sctx, cancel := context.WithTimeout(ctx, a.opts.ContainerStartTimeout)
	defer cancel()
	if err := a.compute.Start(sctx, id); err != nil {
		// The container exists; a failed boot is reported but does not
		// undo creation.
		a.logger.Warn().Err(err).Int("container", id).Msg("container start failed")
	}
	return id, nil
}

// resolveContainer matches a declared attachment against live
// containers; an id match wins over a name match.
func (a *Applicator) resolveContainer(cs *state.ContainerSpec, live map[string]drivers.ContainerInfo) (drivers.ContainerInfo, bool) {
	if cs.ID > 0 {
		if info, ok := live[fmt.Sprintf("id:%d", cs.ID)]; ok {
			return info, true
		}
	}
	if cs.Name != "" {
		if info, ok := live[fmt.Sprintf("name:%s", cs.Name)]; ok {
			return info, true
		}
	}
	return drivers.ContainerInfo{}, false
}

// skipDependents records skip results for a failed volume's attachments
// and shares. They cannot succeed without their backing volume.
func (a *Applicator) skipDependents(report *ApplyReport, path string, spec *state.VolumeSpec) {
	for i := range spec.Containers {
		report.add(ApplyResult{
			Kind:     ResourceMount,
			Resource: fmt.Sprintf("%s -> %s", path, spec.Containers[i].Identity()),
			Status:   ResultSkipped,
			Message:  "backing volume failed",
		})
	}
	for i := range spec.Shares {
		report.add(ApplyResult{
			Kind:     ResourceShare,
			Resource: spec.Shares[i].Name,
			Status:   ResultSkipped,
			Message:  "backing volume failed",
		})
	}
}

// markLedger persists a ledger update, logging but not failing on a
// persist error: the live mutation already succeeded, losing the record
// only degrades future idempotence checks.
func (a *Applicator) markLedger(resource string, mark func() error) {
	if err := mark(); err != nil {
		a.logger.Error().Err(err).Str("resource", resource).Msg("ledger persist failed")
	}
}

// listContainers indexes live containers by id and name. Failure yields
// an empty index; attachment application then treats every container as
// missing, which is safe (create-if-asked or report).
func (a *Applicator) listContainers(ctx context.Context) map[string]drivers.ContainerInfo {
	index := make(map[string]drivers.ContainerInfo)
	if a.compute == nil {
		return index
	}
	live, err := a.compute.List(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("container enumeration failed during apply")
		return index
	}
	for _, c := range live {
		index[fmt.Sprintf("id:%d", c.ID)] = c
		if c.Name != "" {
			index[fmt.Sprintf("name:%s", c.Name)] = c
		}
	}
	return index
}

// listShares snapshots the currently configured shares, used only to
// distinguish created from updated in reporting and the ledger.
func (a *Applicator) listShares(ctx context.Context) map[string]drivers.ShareConfig {
	if a.shares == nil {
		return map[string]drivers.ShareConfig{}
	}
	existing, err := a.shares.ParseExisting(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("share enumeration failed during apply")
		return map[string]drivers.ShareConfig{}
	}
	return existing
}
