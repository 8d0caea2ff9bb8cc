package hive

import (
	"path"

	"github.com/jllopis/hive/pkg/errors"
)

// PinPolicy pins the active agent to the queen at the start of a turn when
// the model in use matches one of its patterns. Some model families do not
// reliably resume at the queen after a round trip through a specialist.
type PinPolicy struct {
	patterns []string
}

// NewPinPolicy validates the path.Match patterns.
func NewPinPolicy(patterns ...string) (*PinPolicy, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, errors.New(errors.CodeConfig, "invalid pin pattern", err).WithContext("pattern", p)
		}
	}
	return &PinPolicy{patterns: append([]string(nil), patterns...)}, nil
}

// Pinned reports whether model matches. A nil policy pins nothing.
func (p *PinPolicy) Pinned(model string) bool {
	if p == nil || model == "" {
		return false
	}
	for _, pattern := range p.patterns {
		if ok, _ := path.Match(pattern, model); ok {
			return true
		}
	}
	return false
}
