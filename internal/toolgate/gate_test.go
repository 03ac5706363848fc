package toolgate

import (
	"strings"
	"testing"

	"github.com/clinsim/voicegate/internal/scenario"
)

func intp(v int) *int { return &v }

func permissiveStage() scenario.StageDefinition {
	return scenario.StageDefinition{
		ID: "treatment",
		AllowedIntents: []scenario.IntentType{
			scenario.IntentUpdateVitals, scenario.IntentRevealFinding,
			scenario.IntentApplyTreatment, scenario.IntentSubmitOrder,
			scenario.IntentSetStage,
		},
	}
}

func TestCheck_IntentPolicy(t *testing.T) {
	t.Parallel()
	g := New()
	restricted := scenario.StageDefinition{
		ID:             "arrival",
		AllowedIntents: []scenario.IntentType{scenario.IntentSubmitOrder},
	}

	cases := []struct {
		name    string
		stage   scenario.StageDefinition
		intent  scenario.ToolIntent
		allowed bool
	}{
		{"unknown type", permissiveStage(), scenario.ToolIntent{Type: "intent_levitate"}, false},
		{"disallowed in stage", restricted, scenario.ToolIntent{Type: scenario.IntentSetStage, StageID: "x"}, false},
		{"allowed in stage", restricted, scenario.ToolIntent{
			Type: scenario.IntentSubmitOrder, Order: &scenario.OrderRequest{Type: scenario.OrderEKG},
		}, true},
		{"order without type", permissiveStage(), scenario.ToolIntent{
			Type: scenario.IntentSubmitOrder, Order: &scenario.OrderRequest{},
		}, false},
		{"vitals without delta", permissiveStage(), scenario.ToolIntent{Type: scenario.IntentUpdateVitals}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := g.Check(tc.stage, tc.intent)
			if d.Allowed != tc.allowed {
				t.Errorf("Allowed = %v (reason %q), want %v", d.Allowed, d.Reason, tc.allowed)
			}
			if !d.Allowed && d.Reason == "" {
				t.Errorf("denial carries no reason")
			}
		})
	}
}

func TestCheck_VitalsBounds(t *testing.T) {
	t.Parallel()
	g := New()
	bounded := permissiveStage()
	bounded.VitalsBounds = &scenario.VitalsBounds{MaxHRDelta: 40, MaxSpO2Delta: 5}

	withinHR := scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &scenario.VitalsDelta{HR: intp(-40)}}
	if d := g.Check(bounded, withinHR); !d.Allowed {
		t.Errorf("delta at the bound denied: %q", d.Reason)
	}

	overHR := scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &scenario.VitalsDelta{HR: intp(41)}}
	d := g.Check(bounded, overHR)
	if d.Allowed {
		t.Errorf("delta over the bound allowed")
	}
	if !strings.Contains(d.Reason, "hr delta") {
		t.Errorf("reason = %q", d.Reason)
	}

	// Magnitude counts, not sign.
	negOver := scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &scenario.VitalsDelta{SpO2: intp(-6)}}
	if d := g.Check(bounded, negOver); d.Allowed {
		t.Errorf("negative delta over the bound allowed")
	}

	// RR has no declared bound in this stage, so any delta passes.
	freeRR := scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &scenario.VitalsDelta{RR: intp(60)}}
	if d := g.Check(bounded, freeRR); !d.Allowed {
		t.Errorf("unbounded vital denied: %q", d.Reason)
	}

	// A stage without a bounds block accepts everything.
	unbounded := permissiveStage()
	big := scenario.ToolIntent{Type: scenario.IntentUpdateVitals, Vitals: &scenario.VitalsDelta{HR: intp(200)}}
	if d := g.Check(unbounded, big); !d.Allowed {
		t.Errorf("nil bounds denied a delta: %q", d.Reason)
	}
}
