package perms

import (
	"github.com/openhearth/hearth/pkg/state"
)

// Populate registers every consumer declared in the desired state.
// Conflicting declarations are collected and skipped; the resolved
// consumers stay intact, matching the run-local propagation policy for
// permission conflicts.
func (r *Resolver) Populate(desired *state.DesiredState) []error {
	var conflicts []error

	for _, path := range desired.Paths() {
		spec := desired.Get(path)
		r.Register(path)

		for i := range spec.Containers {
			c := &spec.Containers[i]
			name := c.Name
			if name == "" {
				name = c.Identity()
			}
			if err := r.AddConsumer(path, KindCompute, name, c.Attachment.Access); err != nil {
				conflicts = append(conflicts, err)
			}
		}

		for i := range spec.Shares {
			s := &spec.Shares[i]
			kind := KindSMBShare
			if s.Protocol == state.ProtocolNFS {
				kind = KindNFSShare
			}
			if err := r.AddConsumer(path, kind, s.Name, s.Access); err != nil {
				conflicts = append(conflicts, err)
			}
		}
	}

	return conflicts
}
