package orchestrator

import (
	"context"
	"testing"

	"github.com/clinsim/voicegate/internal/scenario"
)

func TestRouteCharacter(t *testing.T) {
	cases := []struct {
		text     string
		wantID   string
		explicit bool
	}{
		{"how are you feeling?", "patient", false},
		{"nurse, can you get a set of vitals", "nurse", true},
		{"let's ask the consultant about this", "consultant", true},
		{"call radiology please", "imaging", true},
		{"mom, when did this start?", "parent", true},
		{"tech, run the strip again", "tech", true},
		// Phonetic noise from STT still routes.
		{"ners, hang a bolus", "nurse", true},
		{"", "patient", false},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			id, explicit := routeCharacter(tc.text)
			if id != tc.wantID || explicit != tc.explicit {
				t.Errorf("routeCharacter(%q) = %q/%v, want %q/%v",
					tc.text, id, explicit, tc.wantID, tc.explicit)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	cases := []struct {
		text string
		want scenario.OrderType
		ok   bool
	}{
		{"let's get an ekg", scenario.OrderEKG, true},
		{"order a 12-lead please", scenario.OrderEKG, true},
		{"I need labs drawn", scenario.OrderLabs, true},
		{"get a chest x-ray", scenario.OrderImaging, true},
		{"place an iv line", scenario.OrderIVAccess, true},
		{"I want to listen to the lungs", scenario.OrderLungExam, true},
		// Keyword without an order verb is conversation, not an order.
		{"the ekg looks fine to me", "", false},
		{"her vitals worry me", "", false},
		// Verb without any keyword.
		{"get the family to the waiting room", "", false},
		{"", "", false},
		// STT noise on a single-word keyword.
		{"please run an ekgg", scenario.OrderEKG, true},
	}

	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			typ, ok := parseOrder(tc.text)
			if ok != tc.ok || typ != tc.want {
				t.Errorf("parseOrder(%q) = %q/%v, want %q/%v", tc.text, typ, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestRouteCharacter_AmbiguousAddressIsDeterministic(t *testing.T) {
	// Names two roster characters; the declared table order breaks the tie,
	// every time.
	const text = "nurse, can you bring mom back in"
	for i := 0; i < 100; i++ {
		id, explicit := routeCharacter(text)
		if id != "nurse" || !explicit {
			t.Fatalf("iteration %d: routeCharacter(%q) = %q/%v, want nurse/true", i, text, id, explicit)
		}
	}
}

func TestParseOrder_AmbiguousOrderIsDeterministic(t *testing.T) {
	// Names two order types; the declared table order breaks the tie.
	const text = "get an ekg and labs please"
	for i := 0; i < 100; i++ {
		typ, ok := parseOrder(text)
		if !ok || typ != scenario.OrderEKG {
			t.Fatalf("iteration %d: parseOrder(%q) = %q/%v, want ekg/true", i, text, typ, ok)
		}
	}
}

func TestStubLine(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")

	// No completed EKG yet: the tech falls back to its default line.
	tech := characters["tech"]
	if got := stubLine(tech, rt); got != tech.Lines["default"] {
		t.Errorf("stubLine without results = %q", got)
	}

	// Complete an EKG and the tech reads the result back.
	id := o.submitOrder(context.Background(), "s1", rt, scenario.OrderRequest{Type: scenario.OrderEKG})
	if id == 0 {
		t.Fatalf("order rejected")
	}
	rt.Engine.CompleteOrder(id, "Sinus tachycardia at 132.", o.now())
	got := stubLine(tech, rt)
	if got != "EKG is done. Sinus tachycardia at 132." {
		t.Errorf("stubLine = %q", got)
	}

	// The parent has no order feed; always the default.
	parent := characters["parent"]
	if got := stubLine(parent, rt); got != parent.Lines["default"] {
		t.Errorf("parent stubLine = %q", got)
	}
}
