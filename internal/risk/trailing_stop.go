package risk

import "fmt"

// TrailingConfig holds trailing stop configuration
type TrailingConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	ActivationR   float64 `json:"activation_r" yaml:"activation_r"`       // Unrealized R at which trailing arms
	ATRMultiplier float64 `json:"atr_multiplier" yaml:"atr_multiplier"` // Trailing distance in ATRs
	MinDistance   float64 `json:"min_distance" yaml:"min_distance"`     // Floor on the distance in price units
}

// DefaultTrailingConfig arms at +1R and trails one ATR behind
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		Enabled:       true,
		ActivationR:   1.0,
		ATRMultiplier: 1.0,
	}
}

// Validate checks the trailing configuration
func (c TrailingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.ActivationR <= 0 {
		return fmt.Errorf("trailing activation_r must be positive")
	}
	if c.ATRMultiplier <= 0 {
		return fmt.Errorf("trailing atr_multiplier must be positive")
	}
	if c.MinDistance < 0 {
		return fmt.Errorf("trailing min_distance must not be negative")
	}
	return nil
}

// TrailingPolicy decides when a position arms trailing and how far behind
// price the stop follows. The ratchet itself lives with the position.
type TrailingPolicy struct {
	config TrailingConfig
}

// NewTrailingPolicy creates a policy
func NewTrailingPolicy(config TrailingConfig) *TrailingPolicy {
	return &TrailingPolicy{config: config}
}

// ShouldArm reports whether unrealized R has reached activation
func (p *TrailingPolicy) ShouldArm(unrealizedR float64) bool {
	return p.config.Enabled && unrealizedR >= p.config.ActivationR
}

// Distance fixes the trailing distance from the current ATR
func (p *TrailingPolicy) Distance(atr float64) float64 {
	d := atr * p.config.ATRMultiplier
	if d < p.config.MinDistance {
		d = p.config.MinDistance
	}
	return d
}
