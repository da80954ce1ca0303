package state

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates desired-state input at the engine boundary. Specs
// that pass here are treated as well-formed for the rest of the run.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a desired-state validator.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateSpec validates a single declared volume spec, including the
// cross-field rules struct tags cannot express.
func (v *Validator) ValidateSpec(spec *VolumeSpec) error {
	if spec == nil {
		return fmt.Errorf("volume spec is nil")
	}
	if err := v.validate.Struct(spec); err != nil {
		return fmt.Errorf("volume %s/%s: %w", spec.Pool, spec.Path, err)
	}
	if err := checkPath(spec.Path); err != nil {
		return fmt.Errorf("volume %s/%s: %w", spec.Pool, spec.Path, err)
	}

	for i := range spec.Containers {
		c := &spec.Containers[i]
		if c.ID <= 0 && c.Name == "" {
			return fmt.Errorf("volume %s: container attachment needs an id or a name", spec.FullPath())
		}
		if c.AutoCreate && c.Template == "" {
			return fmt.Errorf("volume %s: container %s requests auto-create without a template", spec.FullPath(), c.Identity())
		}
		if err := c.Attachment.Access.Validate(); err != nil {
			return fmt.Errorf("volume %s: container %s: %w", spec.FullPath(), c.Identity(), err)
		}
	}

	seenShares := make(map[string]struct{}, len(spec.Shares))
	for i := range spec.Shares {
		s := &spec.Shares[i]
		if err := s.Protocol.Validate(); err != nil {
			return fmt.Errorf("volume %s: share %s: %w", spec.FullPath(), s.Name, err)
		}
		if err := s.Access.Validate(); err != nil {
			return fmt.Errorf("volume %s: share %s: %w", spec.FullPath(), s.Name, err)
		}
		key := string(s.Protocol) + "/" + s.Name
		if _, dup := seenShares[key]; dup {
			return fmt.Errorf("volume %s: share %s declared twice", spec.FullPath(), s.Name)
		}
		seenShares[key] = struct{}{}
	}

	return nil
}

// ValidateAll validates every declared spec and builds the flattened
// desired state in one step.
func (v *Validator) ValidateAll(declared []*VolumeSpec) (*DesiredState, error) {
	for _, spec := range declared {
		if err := v.ValidateSpec(spec); err != nil {
			return nil, err
		}
	}
	return NewDesiredState(declared)
}
