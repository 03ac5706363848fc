package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/resilience"
	"github.com/clinsim/voicegate/internal/scenario"
	"github.com/clinsim/voicegate/pkg/provider/llm"

	"github.com/clinsim/voicegate/internal/cost"
)

// pcmBytesPerSecond is 24 kHz 16-bit mono, the Realtime input format. Used
// only for the audio-seconds cost estimate.
const pcmBytesPerSecond = 48000

// Patient voice states, announced so clients can animate the avatar.
const (
	patientStateIdle      = "idle"
	patientStateListening = "listening"
	patientStateSpeaking  = "speaking"
	patientStateError     = "error"
)

// broadcastPatientState announces a patient voice-state transition. The
// character is set only for speaking, naming who is talking.
func (o *Orchestrator) broadcastPatientState(sessionID, state, characterID string) {
	o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientState{
		Type: gateway.TypePatientState, SessionID: sessionID,
		State: state, Character: characterID,
	})
}

// ── Speaking floor ────────────────────────────────────────────────────────────

// handleStartSpeaking arbitrates the floor: first requester wins, everyone is
// told, losers get a floor_taken error on their own connection only.
func (o *Orchestrator) handleStartSpeaking(c *gateway.Client, msg *gateway.Inbound) {
	res := o.deps.Sessions.RequestFloor(msg.SessionID, msg.UserID)
	if !res.Granted {
		_ = c.SendJSON(gateway.NewError("floor_taken"))
		return
	}
	o.deps.Sessions.BroadcastToSession(msg.SessionID, gateway.ParticipantState{
		Type: gateway.TypeParticipantState, SessionID: msg.SessionID,
		UserID: msg.UserID, Speaking: true,
	})
}

// handleStopSpeaking releases the floor and closes the speaker's Realtime
// input turn so the model can answer.
func (o *Orchestrator) handleStopSpeaking(c *gateway.Client, msg *gateway.Inbound) {
	if o.deps.Sessions.ReleaseFloor(msg.SessionID, msg.UserID) {
		o.deps.Sessions.BroadcastToSession(msg.SessionID, gateway.ParticipantState{
			Type: gateway.TypeParticipantState, SessionID: msg.SessionID,
			UserID: msg.UserID, Speaking: false,
		})
	}
	if rt := o.runtime(msg.SessionID); rt != nil && rt.RT != nil {
		_ = rt.RT.CommitAudio()
	}
}

// ── Doctor audio ──────────────────────────────────────────────────────────────

// handleDoctorAudio is the voice ingress. Audio from anyone but the floor
// holder is dropped, as is audio from muted users. With a live Realtime
// session the chunk streams straight to the model and a parallel STT pass
// feeds the order parser and character router; otherwise the legacy
// transcribe-then-reply path runs.
func (o *Orchestrator) handleDoctorAudio(ctx context.Context, c *gateway.Client, msg *gateway.Inbound) {
	rt := o.runtime(msg.SessionID)
	if rt == nil {
		_ = c.SendJSON(gateway.NewError("no active scenario"))
		return
	}
	if o.deps.Sessions.FloorHolder(msg.SessionID) != msg.UserID {
		return
	}

	audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil || len(audio) == 0 {
		_ = c.SendJSON(gateway.NewError("undecodable audio payload"))
		return
	}

	lock := o.deps.Locks.Get(msg.SessionID)
	var muted, useRealtime bool
	_ = lock.With(ctx, "doctor_audio.flags", func() error {
		muted = rt.Muted[msg.UserID]
		useRealtime = rt.RT != nil && !rt.PausedAI && !rt.VoiceFallback &&
			!o.deps.Sessions.IsFallback(msg.SessionID)
		return nil
	})
	if muted {
		return
	}
	o.broadcastPatientState(msg.SessionID, patientStateListening, "")

	if useRealtime {
		o.realtimeAudio(ctx, msg.SessionID, rt, audio, msg)
		return
	}
	o.legacyAudio(ctx, msg.SessionID, rt, audio, msg)
}

// realtimeAudio streams the chunk to the Realtime session and runs STT on the
// side: the transcript drives the shared utterance broadcast, the order
// parser, and explicit character addressing — all of which pre-empt the
// model's own spoken answer.
func (o *Orchestrator) realtimeAudio(ctx context.Context, sessionID string, rt *Runtime, audio []byte, msg *gateway.Inbound) {
	if err := rt.RT.SendAudioChunk(audio); err != nil {
		o.voiceError(ctx, sessionID, rt, gateway.VoiceErrOpenAIFailed, err)
		o.legacyAudio(ctx, sessionID, rt, audio, msg)
		return
	}
	_ = rt.RT.CommitAudio()
	rt.Cost.AddUsage(cost.Usage{AudioSeconds: float64(len(audio)) / pcmBytesPerSecond})

	if o.deps.STT == nil {
		return
	}
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		start := time.Now()
		text, err := resilience.Retry(sctx, resilience.DefaultPolicy(), "stt.transcribe",
			func(c context.Context) (string, error) {
				return o.deps.STT.Transcribe(c, audio, msg.ContentType)
			})
		if err != nil {
			// The Realtime path already heard the audio; a dead side-channel
			// STT only costs order parsing.
			o.deps.Metrics.RecordAdapterError(sctx, "stt")
			return
		}
		o.deps.Metrics.RecordAdapterCall(sctx, "stt", "ok", time.Since(start).Seconds())
		if text == "" {
			return
		}

		o.deps.Sessions.BroadcastToSession(sessionID, gateway.DoctorUtterance{
			Type: gateway.TypeDoctorUtterance, SessionID: sessionID,
			UserID: msg.UserID, Text: text,
		})

		lock := o.deps.Locks.Get(sessionID)
		_ = lock.With(sctx, "doctor_audio.route", func() error {
			rt.rememberUtterance(text, o.now())
			if typ, ok := parseOrder(text); ok {
				// The order pipeline answers; stop the model talking over it.
				_ = rt.RT.CancelResponse()
				o.submitOrder(sctx, sessionID, rt, scenario.OrderRequest{Type: typ, OrderedBy: msg.UserID})
				o.broadcastSimStateLocked(sessionID, rt)
				return nil
			}
			if ch, explicit := routeCharacter(text); explicit && ch != "patient" {
				_ = rt.RT.CancelResponse()
				o.produceReply(sctx, sessionID, rt, ch, text)
			}
			return nil
		})
	}()
}

// legacyAudio is the transcribe-then-reply fallback path used when Realtime
// is unavailable, paused, or degraded.
func (o *Orchestrator) legacyAudio(ctx context.Context, sessionID string, rt *Runtime, audio []byte, msg *gateway.Inbound) {
	if o.deps.STT == nil {
		o.voiceError(ctx, sessionID, rt, gateway.VoiceErrSTTFailed, errors.New("no stt adapter configured"))
		return
	}

	start := time.Now()
	text, err := resilience.Retry(ctx, resilience.DefaultPolicy(), "stt.transcribe",
		func(c context.Context) (string, error) {
			return o.deps.STT.Transcribe(c, audio, msg.ContentType)
		})
	if err != nil {
		o.voiceError(ctx, sessionID, rt, gateway.VoiceErrSTTFailed, err)
		return
	}
	o.deps.Metrics.RecordAdapterCall(ctx, "stt", "ok", time.Since(start).Seconds())
	if text == "" {
		// No speech recognised; a soft miss, not an error.
		return
	}

	o.deps.Sessions.BroadcastToSession(sessionID, gateway.DoctorUtterance{
		Type: gateway.TypeDoctorUtterance, SessionID: sessionID,
		UserID: msg.UserID, Text: text,
	})

	lock := o.deps.Locks.Get(sessionID)
	_ = lock.With(ctx, "doctor_audio.reply", func() error {
		now := o.now()
		verdict := o.shouldAutoReply(rt, msg.UserID, text, now)
		rt.rememberUtterance(text, now)

		switch verdict {
		case replyUnsafe:
			o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
				TS: now, Type: "safety.autoreply.blocked",
				Data: map[string]any{"userId": msg.UserID},
			})
			o.deps.Sessions.BroadcastToPresenters(sessionID, gateway.PatientTranscriptDelta{
				Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
				Text: "NPC reply held for review (content flagged).", Character: "nurse",
			})
			return nil

		case replySuppressed:
			return nil
		}

		if rt.PausedAI {
			return nil
		}
		if typ, ok := parseOrder(text); ok {
			o.submitOrder(ctx, sessionID, rt, scenario.OrderRequest{Type: typ, OrderedBy: msg.UserID})
			rt.markAutoReply(msg.UserID, now)
			o.broadcastSimStateLocked(sessionID, rt)
			return nil
		}

		ch, _ := routeCharacter(text)
		if o.produceReply(ctx, sessionID, rt, ch, text) {
			rt.markAutoReply(msg.UserID, now)
		}
		return nil
	})
}

// ── NPC replies ───────────────────────────────────────────────────────────────

// handleForceReply makes the named character speak regardless of the
// auto-reply guard. Payload "text" seeds the prompt. Caller holds the state
// lock.
func (o *Orchestrator) handleForceReply(ctx context.Context, sessionID string, rt *Runtime, characterID string, payload map[string]any) {
	if characterID == "" {
		characterID = "patient"
	}
	if !isCharacter(characterID) {
		return
	}
	prompt, _ := payload["text"].(string)
	if prompt == "" {
		prompt = "Continue in character."
	}
	o.produceReply(ctx, sessionID, rt, characterID, prompt)
}

// produceReply generates one character reply: streamed LLM text plus TTS
// audio for AI characters, templates plus TTS for stubs. Scoring side effects
// (ICU consult, parent informed, patient reassured) fire on addressing the
// relevant character. Returns whether a reply was produced. Caller holds the
// state lock.
func (o *Orchestrator) produceReply(ctx context.Context, sessionID string, rt *Runtime, characterID, prompt string) bool {
	ch, ok := characters[characterID]
	if !ok {
		return false
	}
	o.recordAddressMarkers(rt, characterID)

	var text string
	switch ch.Policy {
	case replyAI:
		text = o.aiReplyText(ctx, sessionID, rt, ch, prompt)
	case replyStub:
		text = stubLine(ch, rt)
		if text != "" {
			o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
				Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
				Text: text, Character: characterID,
			})
		}
	}
	if text == "" {
		return false
	}

	o.deps.Metrics.RecordUtterance(ctx, characterID)
	o.speakLine(ctx, sessionID, rt, characterID, text)
	return true
}

// aiReplyText streams an LLM completion, broadcasting each delta as reply
// text, and returns the accumulated reply.
func (o *Orchestrator) aiReplyText(ctx context.Context, sessionID string, rt *Runtime, ch character, prompt string) string {
	if o.deps.LLM == nil {
		return ""
	}

	system := ch.Persona + " " + buildInstructions(rt.Engine.Definition(), rt.Engine.State())
	msgs := []llm.Message{{Role: "user", Content: prompt}}

	start := time.Now()
	res, err := resilience.Retry(ctx, resilience.DefaultPolicy(), "llm.stream",
		func(c context.Context) (llm.Result, error) {
			return o.deps.LLM.Stream(c, system, msgs, func(delta string) {
				o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
					Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
					Text: delta, Character: ch.ID,
				})
			})
		})
	if err != nil {
		o.voiceError(ctx, sessionID, rt, gateway.VoiceErrOpenAIFailed, err)
		return ""
	}
	o.deps.Metrics.RecordAdapterCall(ctx, "llm", "ok", time.Since(start).Seconds())

	usage := res.Usage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage = llm.EstimateTokens(append([]llm.Message{{Role: "system", Content: system}}, msgs...), res.Text)
	}
	rt.Cost.AddUsage(cost.Usage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens})
	return res.Text
}

// speakLine synthesizes a finished reply line and ships it as one audio
// chunk. Degraded sessions stay text-only.
func (o *Orchestrator) speakLine(ctx context.Context, sessionID string, rt *Runtime, characterID, text string) {
	if o.deps.TTS == nil || rt.VoiceFallback || o.deps.Sessions.IsFallback(sessionID) {
		return
	}
	voice := o.cfg.Voices[characterID]

	start := time.Now()
	audio, err := resilience.Retry(ctx, resilience.DefaultPolicy(), "tts.synthesize",
		func(c context.Context) ([]byte, error) {
			return o.deps.TTS.Synthesize(c, text, voice)
		})
	if err != nil {
		o.voiceError(ctx, sessionID, rt, gateway.VoiceErrTTSFailed, err)
		return
	}
	o.deps.Metrics.RecordAdapterCall(ctx, "tts", "ok", time.Since(start).Seconds())
	if len(audio) == 0 {
		return
	}

	o.broadcastPatientState(sessionID, patientStateSpeaking, characterID)
	o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientAudio{
		Type: gateway.TypePatientAudio, SessionID: sessionID,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
		Character:   characterID,
	})
	o.broadcastPatientState(sessionID, patientStateIdle, "")
}

// recordAddressMarkers updates the complex sub-engine flags that key off who
// the team talks to.
func (o *Orchestrator) recordAddressMarkers(rt *Runtime, characterID string) {
	ext := rt.Engine.State().Extended
	if ext == nil {
		return
	}
	now := o.now()
	switch characterID {
	case "patient":
		if ext.SVT != nil && !ext.SVT.Flags.PatientReassured {
			ext.SVT.Flags.PatientReassured = true
			ext.SVT.AppendTimeline(now, "communication", "team reassured the patient", false)
		}
	case "parent":
		switch {
		case ext.SVT != nil:
			ext.SVT.Flags.ParentInformed = true
		case ext.Myocarditis != nil:
			ext.Myocarditis.Flags.ParentInformed = true
		}
	case "consultant":
		if ext.Myocarditis != nil {
			ext.Myocarditis.RecordICUConsult(now)
		}
	}
}

// ── Degradation ───────────────────────────────────────────────────────────────

// voiceError reports an exhausted adapter and flips the session to text-only
// voice. The correlation ID is stable per session so operators can group the
// notices.
func (o *Orchestrator) voiceError(ctx context.Context, sessionID string, rt *Runtime, code string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	stage := adapterStage(code)
	o.deps.Metrics.RecordAdapterError(ctx, stage)
	rt.VoiceFallback = true

	correlationID := rt.Correlation()
	slog.Error("voice adapter exhausted, session degraded to text",
		"session_id", sessionID, "adapter", stage, "correlation_id", correlationID, "err", err)
	o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
		Type: "voice.degraded",
		Data: map[string]any{"code": code, "correlationId": correlationID},
	})

	o.deps.Sessions.BroadcastToSession(sessionID, gateway.VoiceError{
		Type: gateway.TypeVoiceError, SessionID: sessionID,
		Error: code, CorrelationID: correlationID,
		Detail: fmt.Sprintf("voice degraded to text-only: %v", err),
	})
	o.broadcastPatientState(sessionID, patientStateError, "")
}

func adapterStage(code string) string {
	switch code {
	case gateway.VoiceErrSTTFailed:
		return "stt"
	case gateway.VoiceErrTTSFailed:
		return "tts"
	}
	return "realtime"
}
