package state

import (
	"fmt"
	"sort"
	"strings"
)

// DesiredState is the flattened desired-state map, full volume path to
// spec, with a stable iteration order in which every ancestor precedes
// its descendants.
type DesiredState struct {
	volumes map[string]*VolumeSpec
	order   []string
}

// NewDesiredState builds a flattened desired state from the declared
// volume specs. Missing ancestor volumes are synthesized and marked
// AutoGenerated. Paths containing parent-traversal segments or leading
// slashes are rejected.
func NewDesiredState(declared []*VolumeSpec) (*DesiredState, error) {
	ds := &DesiredState{
		volumes: make(map[string]*VolumeSpec, len(declared)),
	}

	for _, spec := range declared {
		if err := checkPath(spec.Path); err != nil {
			return nil, fmt.Errorf("volume %s/%s: %w", spec.Pool, spec.Path, err)
		}
		full := spec.FullPath()
		if existing, ok := ds.volumes[full]; ok && !existing.AutoGenerated {
			return nil, fmt.Errorf("volume %s declared twice", full)
		}
		ds.volumes[full] = spec

		// Synthesize any ancestors the user did not declare.
		segments := strings.Split(spec.Path, "/")
		for i := 1; i < len(segments); i++ {
			ancestor := strings.Join(segments[:i], "/")
			key := spec.Pool + "/" + ancestor
			if _, ok := ds.volumes[key]; ok {
				continue
			}
			ds.volumes[key] = &VolumeSpec{
				Pool:          spec.Pool,
				Path:          ancestor,
				AutoGenerated: true,
			}
		}
	}

	ds.order = make([]string, 0, len(ds.volumes))
	for path := range ds.volumes {
		ds.order = append(ds.order, path)
	}
	// Lexicographic order puts "a" before "a/b" before "a/b/c", which is
	// exactly the ancestor-first invariant the applicator relies on.
	sort.Strings(ds.order)

	return ds, nil
}

// Paths returns every volume path, ancestors before descendants.
func (d *DesiredState) Paths() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Get returns the spec for a full volume path, or nil.
func (d *DesiredState) Get(path string) *VolumeSpec {
	return d.volumes[path]
}

// Len returns the number of volumes, auto-generated ancestors included.
func (d *DesiredState) Len() int {
	return len(d.volumes)
}

// checkPath rejects path shapes that would escape the pool namespace.
func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty volume path")
	}
	if strings.HasPrefix(path, "/") {
		return fmt.Errorf("volume path must be relative to the pool")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("volume path contains an empty segment")
		}
		if seg == ".." || seg == "." {
			return fmt.Errorf("volume path contains a traversal segment")
		}
	}
	return nil
}
