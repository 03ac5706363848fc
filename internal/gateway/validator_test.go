package gateway

import (
	"errors"
	"testing"
)

func TestParseInbound_ClosedTypeSet(t *testing.T) {
	cases := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"malformed json", `{`, ErrMalformedFrame},
		{"unknown type", `{"type":"teleport","sessionId":"s","userId":"u"}`, ErrUnknownType},
		{"empty type", `{"sessionId":"s","userId":"u"}`, ErrUnknownType},
		{"ping needs nothing else", `{"type":"ping"}`, nil},
		{"missing session", `{"type":"start_speaking","userId":"u"}`, ErrMissingField},
		{"missing user", `{"type":"start_speaking","sessionId":"s"}`, ErrMissingField},
		{"start_speaking ok", `{"type":"start_speaking","sessionId":"s","userId":"u"}`, nil},
		{"join bad role", `{"type":"join","sessionId":"s","userId":"u","role":"admin"}`, ErrInvalidRole},
		{"join presenter", `{"type":"join","sessionId":"s","userId":"u","role":"presenter"}`, nil},
		{"join participant", `{"type":"join","sessionId":"s","userId":"u","role":"participant"}`, nil},
		{"doctor_audio without audio", `{"type":"doctor_audio","sessionId":"s","userId":"u"}`, ErrMissingField},
		{"doctor_audio ok", `{"type":"doctor_audio","sessionId":"s","userId":"u","audioBase64":"AAAA"}`, nil},
		{"set_scenario without id", `{"type":"set_scenario","sessionId":"s","userId":"u"}`, ErrMissingField},
		{"voice_command unknown", `{"type":"voice_command","sessionId":"s","userId":"u","commandType":"self_destruct"}`, ErrUnknownCommandType},
		{"voice_command ok", `{"type":"voice_command","sessionId":"s","userId":"u","commandType":"pause_ai"}`, nil},
		{"analyze ok", `{"type":"analyze_transcript","sessionId":"s","userId":"u"}`, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseInbound([]byte(tc.frame))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if msg == nil {
				t.Fatalf("nil message with nil error")
			}
		})
	}
}

func TestParseInbound_PayloadPassthrough(t *testing.T) {
	frame := `{"type":"voice_command","sessionId":"s","userId":"u","commandType":"order","payload":{"orderType":"ekg"}}`
	msg, err := ParseInbound([]byte(frame))
	if err != nil {
		t.Fatalf("ParseInbound: %v", err)
	}
	if got := msg.Payload["orderType"]; got != "ekg" {
		t.Errorf("payload orderType = %v, want ekg", got)
	}
}

func TestValidateSimState(t *testing.T) {
	valid := `{
	  "type": "sim_state", "sessionId": "s1", "stageId": "initial",
	  "scenarioId": "child_asthma_v1",
	  "vitals": {"hr": 120, "bp": "90/60", "spo2": 91, "rr": 36, "temp": 37.2},
	  "interventions": {}, "telemetry": false, "findings": [],
	  "orders": [{"id": 1, "type": "ekg", "status": "pending"}],
	  "fallback": false, "voiceFallback": false, "correlationId": "c-1"
	}`
	if err := ValidateSimState([]byte(valid)); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}

	// Role-gated projections send an empty vitals object.
	gated := `{
	  "type": "sim_state", "sessionId": "s1", "stageId": "initial",
	  "scenarioId": "child_asthma_v1", "vitals": {}, "interventions": {},
	  "telemetry": false, "findings": [], "orders": [],
	  "fallback": false, "voiceFallback": false, "correlationId": "c-1"
	}`
	if err := ValidateSimState([]byte(gated)); err != nil {
		t.Fatalf("gated snapshot rejected: %v", err)
	}

	bad := []struct {
		name string
		doc  string
	}{
		{"missing correlationId", `{"type":"sim_state","sessionId":"s1","stageId":"x","scenarioId":"y","vitals":{},"fallback":false,"voiceFallback":false}`},
		{"null findings", `{"type":"sim_state","sessionId":"s1","stageId":"x","scenarioId":"y","vitals":{},"findings":null,"fallback":false,"voiceFallback":false,"correlationId":"c"}`},
		{"unknown top-level key", `{"type":"sim_state","sessionId":"s1","stageId":"x","scenarioId":"y","vitals":{},"fallback":false,"voiceFallback":false,"correlationId":"c","debug":true}`},
		{"unknown vitals key", `{"type":"sim_state","sessionId":"s1","stageId":"x","scenarioId":"y","vitals":{"pulse":99},"fallback":false,"voiceFallback":false,"correlationId":"c"}`},
		{"bad order status", `{"type":"sim_state","sessionId":"s1","stageId":"x","scenarioId":"y","vitals":{},"orders":[{"id":1,"type":"ekg","status":"lost"}],"fallback":false,"voiceFallback":false,"correlationId":"c"}`},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateSimState([]byte(tc.doc)); err == nil {
				t.Errorf("invalid snapshot passed validation")
			}
		})
	}
}
