package orchestrator

import (
	"testing"
	"time"

	"github.com/clinsim/voicegate/internal/config"
	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/persist"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/internal/session"
)

var testStart = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port: 8080, LogLevel: config.LogInfo,
			HeartbeatMs: 1000, CommandCooldownMs: 1000, OrderDebounceMs: 2000,
		},
		Budget: config.BudgetConfig{
			SoftUSD: 1, HardUSD: 2,
			Pricing: config.PricingConfig{
				PerThousandInputTokens:  0.01,
				PerThousandOutputTokens: 0.03,
				PerAudioSecond:          0.001,
			},
		},
		Auth: config.AuthConfig{Mode: "insecure"},
	}
}

// newTestOrchestrator builds an orchestrator with in-memory collaborators, a
// frozen clock at testStart, and a live runtime for session "s1" running the
// given scenario. The heartbeat is not started; tests drive time explicitly.
func newTestOrchestrator(t *testing.T, scenarioID string) (*Orchestrator, *Runtime) {
	t.Helper()

	o := New(testConfig(), Deps{
		Sessions: session.NewManager(nil),
		Locks:    session.NewLocks(),
		Events:   eventlog.New(),
		Store:    persist.NewMemoryStore(),
	})
	o.now = func() time.Time { return testStart }

	engine, err := scenario.NewByID(scenarioID, testStart)
	if err != nil {
		t.Fatalf("NewByID(%q): %v", scenarioID, err)
	}
	rt := newRuntime(engine, o.newCostController("s1"))
	o.mu.Lock()
	o.runtimes["s1"] = rt
	o.mu.Unlock()
	return o, rt
}

// advanceClock moves the orchestrator's frozen clock.
func advanceClock(o *Orchestrator, d time.Duration) time.Time {
	now := o.now().Add(d)
	o.now = func() time.Time { return now }
	return now
}

func recentTypes(o *Orchestrator, sessionID string, n int) []string {
	entries := o.deps.Events.Recent(sessionID, n)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Type)
	}
	return out
}

func containsType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
