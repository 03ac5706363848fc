package orchestrator

import (
	"fmt"

	"github.com/clinsim/voicegate/internal/scenario"
)

// replyPolicy selects how a character's speech is produced.
type replyPolicy string

const (
	// replyAI streams text from the LLM adapter, then synthesizes audio.
	replyAI replyPolicy = "ai"

	// replyStub composes from templates and the latest relevant order
	// result. No LLM involved.
	replyStub replyPolicy = "stub"
)

// character declares one simulated non-player voice.
type character struct {
	ID     string
	Policy replyPolicy

	// Persona seeds the LLM system prompt for AI characters.
	Persona string

	// Lines are the stub templates, keyed by situation. "default" is the
	// fallback when no order result applies.
	Lines map[string]string

	// OrderTypes are the orders whose most recent completed result this
	// stub character reads back.
	OrderTypes []scenario.OrderType
}

// characters is the closed roster, keyed by character ID. Voice IDs come from
// configuration, not from this table.
var characters = map[string]character{
	"patient": {
		ID:     "patient",
		Policy: replyAI,
		Persona: "You are the simulated patient. Answer in one or two short sentences, " +
			"in character for your age and condition. Never name the diagnosis.",
	},
	"nurse": {
		ID:     "nurse",
		Policy: replyAI,
		Persona: "You are the bedside nurse in a paediatric simulation. Confirm orders, " +
			"report observations factually, and keep replies to one sentence.",
	},
	"tech": {
		ID:         "tech",
		Policy:     replyStub,
		OrderTypes: []scenario.OrderType{scenario.OrderEKG},
		Lines: map[string]string{
			"result":  "EKG is done. %s",
			"default": "Tech here — want me to run a 12-lead?",
		},
	},
	"consultant": {
		ID:         "consultant",
		Policy:     replyStub,
		OrderTypes: []scenario.OrderType{scenario.OrderLabs},
		Lines: map[string]string{
			"result":  "Consultant on the line. Latest results: %s",
			"default": "Consultant here. What's the clinical picture?",
		},
	},
	"imaging": {
		ID:         "imaging",
		Policy:     replyStub,
		OrderTypes: []scenario.OrderType{scenario.OrderImaging},
		Lines: map[string]string{
			"result":  "Radiology calling back. %s",
			"default": "Radiology — we haven't received a study for this patient yet.",
		},
	},
	"parent": {
		ID:     "parent",
		Policy: replyStub,
		Lines: map[string]string{
			"default": "Is my child going to be okay? Please tell me what's happening.",
		},
	},
}

// isCharacter reports whether id names a roster character.
func isCharacter(id string) bool {
	_, ok := characters[id]
	return ok
}

// stubLine composes a stub character's reply from its templates and the most
// recent completed order result it reads back. Caller holds the state lock.
func stubLine(ch character, rt *Runtime) string {
	snap := rt.Engine.Snapshot()
	for i := len(snap.Orders) - 1; i >= 0; i-- {
		ord := snap.Orders[i]
		if ord.Status != scenario.OrderComplete || ord.Result == "" {
			continue
		}
		for _, t := range ch.OrderTypes {
			if ord.Type == t {
				if tmpl, ok := ch.Lines["result"]; ok {
					return fmt.Sprintf(tmpl, ord.Result)
				}
			}
		}
	}
	return ch.Lines["default"]
}
