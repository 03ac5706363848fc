package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/clinsim/voicegate/internal/eventlog"
	"github.com/clinsim/voicegate/internal/gateway"
	"github.com/clinsim/voicegate/internal/scenario"
)

// orderETA is the per-type delay before a submitted order completes with its
// deterministic result. Declared data.
var orderETA = map[scenario.OrderType]time.Duration{
	scenario.OrderVitals:      5 * time.Second,
	scenario.OrderEKG:         20 * time.Second,
	scenario.OrderLabs:        45 * time.Second,
	scenario.OrderImaging:     60 * time.Second,
	scenario.OrderCardiacExam: 8 * time.Second,
	scenario.OrderLungExam:    8 * time.Second,
	scenario.OrderGeneralExam: 8 * time.Second,
	scenario.OrderIVAccess:    10 * time.Second,
}

// submitOrder places one order through the gated intent pipeline, applying
// the per-type debounce window against voice double-utterances. Returns the
// accepted order ID, or 0. Caller holds the state lock.
func (o *Orchestrator) submitOrder(ctx context.Context, sessionID string, rt *Runtime, req scenario.OrderRequest) int {
	now := o.now()
	debounce := time.Duration(o.cfg.Server.OrderDebounceMs) * time.Millisecond
	if last, ok := rt.LastOrderAt[req.Type]; ok && now.Sub(last) < debounce {
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			Type: "order.debounced",
			Data: map[string]any{"orderType": string(req.Type)},
		})
		return 0
	}

	intent := scenario.ToolIntent{Type: scenario.IntentSubmitOrder, Order: &req}
	if !o.applyIntent(ctx, sessionID, rt, intent, nil) {
		return 0
	}
	rt.LastOrderAt[req.Type] = now

	ord, ok := rt.Engine.PendingOrder(req.Type)
	if !ok {
		return 0
	}

	o.recordOrderMarkers(rt, req.Type, now)
	rt.PendingCompletions = append(rt.PendingCompletions, pendingCompletion{
		OrderID: ord.ID,
		Type:    req.Type,
		DueAt:   now.Add(orderETA[req.Type]),
	})
	return ord.ID
}

// recordOrderMarkers updates the complex sub-engine ledgers that key off
// order submission time (early-ECG bonus, echo ordered).
func (o *Orchestrator) recordOrderMarkers(rt *Runtime, typ scenario.OrderType, now time.Time) {
	ext := rt.Engine.State().Extended
	if ext == nil {
		return
	}
	switch {
	case ext.SVT != nil:
		if typ == scenario.OrderEKG {
			ext.SVT.RecordECGOrdered(now)
		}
		if typ == scenario.OrderIVAccess {
			ext.SVT.RecordIVAccess(now)
		}
	case ext.Myocarditis != nil:
		if typ == scenario.OrderImaging {
			ext.Myocarditis.RecordEcho(now)
		}
	}
}

// completeDueOrders fires every pending completion whose ETA elapsed, in
// (DueAt, order ID) order, constructing each deterministic result from the
// current engine state. Caller holds the state lock.
func (o *Orchestrator) completeDueOrders(ctx context.Context, sessionID string, rt *Runtime, now time.Time) {
	if len(rt.PendingCompletions) == 0 {
		return
	}

	var due, remaining []pendingCompletion
	for _, pc := range rt.PendingCompletions {
		if !pc.DueAt.After(now) {
			due = append(due, pc)
		} else {
			remaining = append(remaining, pc)
		}
	}
	if len(due) == 0 {
		return
	}
	rt.PendingCompletions = remaining
	sort.Slice(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].OrderID < due[j].OrderID
	})

	for _, pc := range due {
		result := o.orderResult(rt, pc.Type, now)
		if !rt.Engine.CompleteOrder(pc.OrderID, result, now) {
			continue
		}
		o.deps.Events.Append(ctx, sessionID, eventlog.Entry{
			TS: now, Type: "order.completed",
			Data: map[string]any{"orderId": pc.OrderID, "orderType": string(pc.Type)},
		})
		o.announceOrderResult(sessionID, pc.Type, result)
	}
}

// orderResult builds the deterministic result text for a completing order and
// applies its side effects (EKG history, IV placement, rhythm re-derivation).
func (o *Orchestrator) orderResult(rt *Runtime, typ scenario.OrderType, now time.Time) string {
	def := rt.Engine.Definition()
	st := rt.Engine.State()

	switch typ {
	case scenario.OrderVitals:
		return fmt.Sprintf("HR %d, BP %s, SpO2 %d%%, RR %d, temp %.1f°C",
			st.Vitals.HR, st.Vitals.BP, st.Vitals.SpO2, st.Vitals.RR, st.Vitals.Temp)

	case scenario.OrderEKG:
		summary := def.EKGSummary
		rt.Engine.AppendEKG(now, summary, "")
		rt.Engine.SetRhythm(rt.Engine.DynamicRhythm())
		return summary

	case scenario.OrderLabs:
		if ext := st.Extended; ext != nil && ext.Myocarditis != nil {
			return fmt.Sprintf("Lactate %.1f mmol/L, troponin %.0f ng/L (elevated), BNP elevated.",
				ext.Myocarditis.LactateMmolL, ext.Myocarditis.TroponinNgL)
		}
		return def.LabsResult

	case scenario.OrderImaging:
		return def.ImagingResult

	case scenario.OrderCardiacExam:
		o.revealExam(rt, now)
		return st.Exam.Cardio

	case scenario.OrderLungExam:
		o.revealExam(rt, now)
		return st.Exam.Lungs

	case scenario.OrderGeneralExam:
		o.revealExam(rt, now)
		return st.Exam.General

	case scenario.OrderIVAccess:
		if st.Interventions.IV == nil {
			st.Interventions.IV = &scenario.IVAccess{Gauge: 22, Site: "left hand"}
		}
		if ext := st.Extended; ext != nil && ext.SVT != nil {
			ext.SVT.RecordIVAccess(now)
		}
		return fmt.Sprintf("%dg IV placed in the %s, flushing well.",
			st.Interventions.IV.Gauge, st.Interventions.IV.Site)
	}
	return ""
}

// revealExam attaches the scenario's exam content on first reveal.
func (o *Orchestrator) revealExam(rt *Runtime, now time.Time) {
	st := rt.Engine.State()
	if st.Exam == nil {
		def := rt.Engine.Definition()
		x := def.InitialExam
		x.HeartAudioURL = def.HeartAudioURL
		x.LungAudioURL = def.LungAudioURL
		rt.Engine.SetExam(x)
	}
	if !st.Findings["physical_exam_performed"] {
		st.Findings["physical_exam_performed"] = true
	}
	if ext := st.Extended; ext != nil && ext.SVT != nil {
		ext.SVT.AppendTimeline(now, "exam", "physical exam performed", false)
	}
}

// announceOrderResult reads a completed result back on the nurse channel.
func (o *Orchestrator) announceOrderResult(sessionID string, typ scenario.OrderType, result string) {
	if result == "" {
		return
	}
	o.deps.Sessions.BroadcastToSession(sessionID, gateway.PatientTranscriptDelta{
		Type: gateway.TypePatientTranscriptDelta, SessionID: sessionID,
		Text:      fmt.Sprintf("%s result: %s", orderLabel(typ), result),
		Character: "nurse",
	})
}

func orderLabel(typ scenario.OrderType) string {
	switch typ {
	case scenario.OrderEKG:
		return "EKG"
	case scenario.OrderVitals:
		return "Vitals"
	case scenario.OrderLabs:
		return "Labs"
	case scenario.OrderImaging:
		return "Imaging"
	case scenario.OrderCardiacExam:
		return "Cardiac exam"
	case scenario.OrderLungExam:
		return "Lung exam"
	case scenario.OrderGeneralExam:
		return "General exam"
	case scenario.OrderIVAccess:
		return "IV access"
	}
	return string(typ)
}
