// Package toolgate validates proposed tool intents against the current
// stage's declared policy. The gate is a pure validator: it never mutates
// engine state, and a rejection carries a reason the orchestrator logs as a
// tool.intent.rejected event.
package toolgate

import (
	"fmt"

	"github.com/clinsim/voicegate/internal/scenario"
)

// Decision is the result of gating one intent.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Gate checks intents against stage policy. The zero value is ready to use.
type Gate struct{}

// New returns a Gate.
func New() *Gate { return &Gate{} }

// Check validates intent against the stage's allowed-intent set and, for
// vitals updates, the stage's declared delta bounds.
func (g *Gate) Check(stage scenario.StageDefinition, intent scenario.ToolIntent) Decision {
	if !intent.Type.IsValid() {
		return deny("unknown intent type %q", intent.Type)
	}
	if !intentAllowed(stage, intent.Type) {
		return deny("intent %s not allowed in stage %s", intent.Type, stage.ID)
	}

	if intent.Type == scenario.IntentUpdateVitals {
		if intent.Vitals == nil {
			return deny("updateVitals intent carries no delta")
		}
		if d := checkBounds(stage.VitalsBounds, *intent.Vitals); !d.Allowed {
			return d
		}
	}

	if intent.Type == scenario.IntentSubmitOrder {
		if intent.Order == nil || !intent.Order.Type.IsValid() {
			return deny("submitOrder intent carries no valid order type")
		}
	}

	return allow()
}

func intentAllowed(stage scenario.StageDefinition, t scenario.IntentType) bool {
	for _, a := range stage.AllowedIntents {
		if a == t {
			return true
		}
	}
	return false
}

// checkBounds enforces the stage's per-intent absolute delta caps. A nil
// bounds block means the stage accepts any clamped delta.
func checkBounds(b *scenario.VitalsBounds, d scenario.VitalsDelta) Decision {
	if b == nil {
		return allow()
	}
	if d.HR != nil && b.MaxHRDelta > 0 && abs(*d.HR) > b.MaxHRDelta {
		return deny("hr delta %d exceeds stage bound %d", *d.HR, b.MaxHRDelta)
	}
	if d.SpO2 != nil && b.MaxSpO2Delta > 0 && abs(*d.SpO2) > b.MaxSpO2Delta {
		return deny("spo2 delta %d exceeds stage bound %d", *d.SpO2, b.MaxSpO2Delta)
	}
	if d.RR != nil && b.MaxRRDelta > 0 && abs(*d.RR) > b.MaxRRDelta {
		return deny("rr delta %d exceeds stage bound %d", *d.RR, b.MaxRRDelta)
	}
	if d.Temp != nil && b.MaxTempDelta > 0 && absF(*d.Temp) > b.MaxTempDelta {
		return deny("temp delta %.1f exceeds stage bound %.1f", *d.Temp, b.MaxTempDelta)
	}
	return allow()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
