// Package cost accumulates a per-session USD estimate from token and audio
// usage and fires soft/hard budget callbacks exactly once each.
package cost

import (
	"log/slog"
	"sync"
)

// Pricing holds the configured unit prices. All values are USD.
type Pricing struct {
	// PerThousandInputTokens and PerThousandOutputTokens price LLM/Realtime
	// token usage.
	PerThousandInputTokens  float64
	PerThousandOutputTokens float64

	// PerAudioSecond prices streamed voice audio.
	PerAudioSecond float64
}

// Limits holds the soft and hard USD budgets. Zero disables a limit.
type Limits struct {
	SoftUSD float64
	HardUSD float64
}

// Usage is one accounting increment.
type Usage struct {
	InputTokens  int
	OutputTokens int
	AudioSeconds float64
}

// Controller tracks spend for a single session. Safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	pricing Pricing
	limits  Limits

	usdEstimate  float64
	voiceSeconds float64

	softFired bool
	hardFired bool

	onSoft func(usd float64)
	onHard func(usd float64)
}

// New creates a Controller. The callbacks may be nil; each fires at most once
// for the controller's lifetime.
func New(pricing Pricing, limits Limits, onSoft, onHard func(usd float64)) *Controller {
	return &Controller{pricing: pricing, limits: limits, onSoft: onSoft, onHard: onHard}
}

// AddUsage accumulates one usage increment and fires any newly crossed limit
// callback. Callbacks run outside the controller's lock.
func (c *Controller) AddUsage(u Usage) {
	c.mu.Lock()
	c.usdEstimate += float64(u.InputTokens) / 1000 * c.pricing.PerThousandInputTokens
	c.usdEstimate += float64(u.OutputTokens) / 1000 * c.pricing.PerThousandOutputTokens
	c.usdEstimate += u.AudioSeconds * c.pricing.PerAudioSecond
	c.voiceSeconds += u.AudioSeconds

	var fireSoft, fireHard bool
	if !c.softFired && c.limits.SoftUSD > 0 && c.usdEstimate >= c.limits.SoftUSD {
		c.softFired = true
		fireSoft = true
	}
	if !c.hardFired && c.limits.HardUSD > 0 && c.usdEstimate >= c.limits.HardUSD {
		c.hardFired = true
		fireHard = true
	}
	usd := c.usdEstimate
	c.mu.Unlock()

	if fireSoft {
		slog.Warn("budget soft limit crossed", "usd", usd, "soft_usd", c.limits.SoftUSD)
		if c.onSoft != nil {
			c.onSoft(usd)
		}
	}
	if fireHard {
		slog.Warn("budget hard limit crossed", "usd", usd, "hard_usd", c.limits.HardUSD)
		if c.onHard != nil {
			c.onHard(usd)
		}
	}
}

// EstimateUSD returns the accumulated spend estimate.
func (c *Controller) EstimateUSD() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usdEstimate
}

// VoiceSeconds returns the accumulated audio seconds.
func (c *Controller) VoiceSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceSeconds
}

// OverHardLimit reports whether the hard budget has been crossed. Used to
// block resume_ai/unfreeze while over budget.
func (c *Controller) OverHardLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hardFired
}

// SoftFired reports whether the soft callback has fired.
func (c *Controller) SoftFired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.softFired
}
