package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openhearth/hearth/pkg/checkpoint"
	"github.com/openhearth/hearth/pkg/drivers"
	"github.com/openhearth/hearth/pkg/drivers/devsim"
	"github.com/openhearth/hearth/pkg/engine"
	"github.com/openhearth/hearth/pkg/ledger"
	"github.com/openhearth/hearth/pkg/perms"
	"github.com/openhearth/hearth/pkg/policy"
	"github.com/openhearth/hearth/pkg/state"
	"github.com/openhearth/hearth/pkg/stores"
	"github.com/openhearth/hearth/pkg/telemetry"
)

// appEnv bundles the wired collaborators a command needs. Commands build
// only what they use; close releases the run-history store.
type appEnv struct {
	logger   zerolog.Logger
	volumes  drivers.Volume
	compute  drivers.Compute
	shares   drivers.Share
	ledger   *ledger.Ledger
	store    *stores.SQLiteStore
	resolver *perms.Resolver
	safety   *policy.Engine
	ckpt     *checkpoint.Controller
	metrics  *telemetry.Metrics
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hearth"
	}
	return filepath.Join(home, ".hearth")
}

func newLogger() (zerolog.Logger, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return telemetry.NewLogger(cfg.Logging)
}

// openEnv wires the full collaborator set against the data directory.
func openEnv(ctx context.Context) (*appEnv, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	world, err := devsim.Open(filepath.Join(dataDir, "sim"))
	if err != nil {
		return nil, err
	}

	ledg, err := ledger.Open(filepath.Join(dataDir, "ledger.json"), logger)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dataDir, "history.db")})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	env := &appEnv{
		logger:   logger,
		volumes:  world.Volume(),
		compute:  world.Compute(),
		shares:   world.Share(),
		ledger:   ledg,
		store:    store,
		resolver: perms.NewResolver("root", logger),
		safety:   policy.NewEngine(logger),
		ckpt:     checkpoint.NewController(world.Volume(), world.Share(), filepath.Join(dataDir, "checkpoints"), logger),
		metrics:  metrics,
	}
	return env, nil
}

func (e *appEnv) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// loadSpec reads a JSON array of volume specs, validates it, and returns
// the flattened desired state.
func loadSpec(path string) (*state.DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file: %w", err)
	}

	var declared []*state.VolumeSpec
	if err := json.Unmarshal(data, &declared); err != nil {
		return nil, fmt.Errorf("failed to parse spec file: %w", err)
	}

	return state.NewValidator().ValidateAll(declared)
}

// populateResolver registers all declared consumers. Conflicts are
// logged per declaration and do not abort the command.
func (e *appEnv) populateResolver(desired *state.DesiredState) {
	for _, err := range e.resolver.Populate(desired) {
		e.logger.Error().Err(err).Msg("permission conflict")
	}
	for _, w := range e.resolver.ValidateAll() {
		e.logger.Warn().Msg(w)
	}
}

// gatherCurrent lists live volumes per declared pool.
func (e *appEnv) gatherCurrent(ctx context.Context, desired *state.DesiredState) (state.CurrentState, error) {
	current := state.CurrentState{}
	seen := map[string]bool{}
	for _, path := range desired.Paths() {
		pool := desired.Get(path).Pool
		if seen[pool] {
			continue
		}
		seen[pool] = true

		listed, err := e.volumes.List(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to list pool %s: %w", pool, err)
		}
		for volPath, props := range listed {
			current[volPath] = map[string]string(props)
		}
	}
	return current, nil
}

// newRunner assembles the run orchestrator from the wired environment.
func (e *appEnv) newRunner() *engine.Runner {
	differ := engine.NewDiffer(e.compute, e.logger)
	applicator := engine.NewApplicator(
		e.volumes, e.compute, e.shares,
		e.resolver, e.ledger,
		engine.Options{}, e.logger,
	)
	return engine.NewRunner(
		differ, applicator,
		e.ckpt, e.safety,
		stores.NewRecorder(e.store), e.ledger,
		e.metrics, nil,
		e.logger,
	)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
