package playlist

import (
	"fmt"
	"strings"
	"time"
)

// EffectMode names the visual transform applied during synthesis.
type EffectMode string

const (
	EffectNormal EffectMode = "normal"
	EffectGlitch EffectMode = "glitch"
)

// ParseEffectMode accepts "normal" and "glitch" (case-insensitive). An empty
// string is normal.
func ParseEffectMode(s string) (EffectMode, error) {
	switch EffectMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", EffectNormal:
		return EffectNormal, nil
	case EffectGlitch:
		return EffectGlitch, nil
	}
	return "", fmt.Errorf("unknown effect mode %q", s)
}

// Record is one published submission: a synthesized artifact and the identity
// of the submitter it belongs to. Records are immutable once appended.
type Record struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	EffectMode EffectMode `json:"effectMode"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate reports whether r can be appended.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if r.URL == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidRecord)
	}
	if r.EffectMode != EffectNormal && r.EffectMode != EffectGlitch {
		return fmt.Errorf("%w: effect mode %q", ErrInvalidRecord, r.EffectMode)
	}
	return nil
}
