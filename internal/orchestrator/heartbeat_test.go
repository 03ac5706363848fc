package orchestrator

import (
	"context"
	"testing"
	"time"
)

func countType(types []string, want string) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}

func TestCheckAlarms_SilentWithoutTelemetry(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")
	ctx := context.Background()

	v := rt.Engine.State().Vitals
	v.SpO2 = 80
	rt.Engine.SetVitals(v)

	o.checkAlarms(ctx, "s1", rt, o.now())

	if len(rt.AlarmSeenAt) != 0 {
		t.Errorf("alarms fired with the monitor off: %v", rt.AlarmSeenAt)
	}
	if containsType(recentTypes(o, "s1", 10), "alarm."+alarmSpO2Low) {
		t.Errorf("sat alarm logged with the monitor off")
	}
}

func TestCheckAlarms_EdgeTriggerAndRearm(t *testing.T) {
	o, rt := newTestOrchestrator(t, "child_asthma_v1")
	ctx := context.Background()
	rt.Engine.SetTelemetry(true, o.now())

	// Keep HR inside the child band so only the sat alarm is in play.
	set := func(spo2 int) {
		v := rt.Engine.State().Vitals
		v.HR = 110
		v.SpO2 = spo2
		rt.Engine.SetVitals(v)
	}

	set(88)
	o.checkAlarms(ctx, "s1", rt, o.now())
	if got := countType(recentTypes(o, "s1", 30), "alarm."+alarmSpO2Low); got != 1 {
		t.Fatalf("sat alarm fired %d times, want 1", got)
	}

	// Repeated checks with the condition still active stay quiet.
	o.checkAlarms(ctx, "s1", rt, advanceClock(o, 5*time.Second))
	o.checkAlarms(ctx, "s1", rt, advanceClock(o, 5*time.Second))
	if got := countType(recentTypes(o, "s1", 30), "alarm."+alarmSpO2Low); got != 1 {
		t.Fatalf("active sat alarm re-fired: %d times", got)
	}

	// The condition clearing re-arms the alarm.
	set(95)
	o.checkAlarms(ctx, "s1", rt, advanceClock(o, 5*time.Second))
	if _, seen := rt.AlarmSeenAt[alarmSpO2Low]; seen {
		t.Fatalf("sat alarm not re-armed after recovery")
	}

	// Crossing the threshold again fires again.
	set(87)
	o.checkAlarms(ctx, "s1", rt, advanceClock(o, 5*time.Second))
	if got := countType(recentTypes(o, "s1", 30), "alarm."+alarmSpO2Low); got != 2 {
		t.Errorf("sat alarm fired %d times after re-arm, want 2", got)
	}
}

func TestCheckAlarms_HeartRateThresholdsByAge(t *testing.T) {
	o, rt := newTestOrchestrator(t, "teen_svt_complex_v1")
	ctx := context.Background()
	rt.Engine.SetTelemetry(true, o.now())

	// SVT presents at HR 220, far above the teen band.
	o.checkAlarms(ctx, "s1", rt, o.now())
	if !containsType(recentTypes(o, "s1", 10), "alarm."+alarmHRHigh) {
		t.Fatalf("tachycardia alarm did not fire at presentation")
	}

	// A crash to bradycardia swaps the active alarm.
	v := rt.Engine.State().Vitals
	v.HR = 42
	rt.Engine.SetVitals(v)
	o.checkAlarms(ctx, "s1", rt, advanceClock(o, 10*time.Second))

	types := recentTypes(o, "s1", 20)
	if !containsType(types, "alarm."+alarmHRLow) {
		t.Errorf("bradycardia alarm did not fire")
	}
	if _, seen := rt.AlarmSeenAt[alarmHRHigh]; seen {
		t.Errorf("tachycardia alarm not re-armed after the rate fell")
	}
}
