package scenario

import "math"

// Age-group tachycardia and bradycardia thresholds used for rhythm labelling
// and heartbeat alarms. Declared data, not clinical advice.
var hrThresholds = map[AgeGroup]struct{ Low, High int }{
	AgeInfant:    {Low: 90, High: 180},
	AgeToddler:   {Low: 80, High: 160},
	AgePreschool: {Low: 70, High: 140},
	AgeChild:     {Low: 60, High: 130},
	AgeTeen:      {Low: 50, High: 120},
}

// HRThresholds returns the low/high heart-rate alarm bounds for an age group.
func HRThresholds(g AgeGroup) (low, high int) {
	t, ok := hrThresholds[g]
	if !ok {
		t = hrThresholds[AgeChild]
	}
	return t.Low, t.High
}

// DynamicRhythm derives the rhythm label from the current heart rate and
// extended-state flags. It is re-evaluated after any vitals-mutating
// treatment so the telemetry label tracks the physiology.
func (e *Engine) DynamicRhythm() string {
	if e.st.Extended != nil && e.st.Extended.SVT != nil && !e.st.Extended.SVT.Converted {
		return "SVT"
	}
	low, high := HRThresholds(e.st.Demographics.AgeGroup)
	switch {
	case e.st.Vitals.HR == 0:
		return "Asystole"
	case e.st.Vitals.HR > high:
		return "Sinus tachycardia"
	case e.st.Vitals.HR < low:
		return "Sinus bradycardia"
	default:
		return "Normal sinus rhythm"
	}
}

// waveformSamples is the length of a synthesised telemetry waveform vector:
// two seconds at 64 samples/second.
const waveformSamples = 128

// SynthesizeWaveform produces a deterministic telemetry waveform vector for
// the given heart rate: a narrow spike per beat over a gentle baseline
// oscillation. The vector is display data only; it carries no clinical
// meaning beyond the beat frequency.
func SynthesizeWaveform(hr int) []float64 {
	if hr <= 0 {
		return make([]float64, waveformSamples)
	}
	out := make([]float64, waveformSamples)
	beatsPerSample := float64(hr) / 60.0 / 64.0
	for i := range out {
		phase := math.Mod(float64(i)*beatsPerSample, 1.0)
		// Baseline wander.
		v := 0.05 * math.Sin(2*math.Pi*float64(i)/float64(waveformSamples))
		// QRS-like spike in the first 8% of each beat, T-wave bump after.
		switch {
		case phase < 0.04:
			v += phase / 0.04
		case phase < 0.08:
			v += 1 - (phase-0.04)/0.04
		case phase > 0.25 && phase < 0.40:
			v += 0.2 * math.Sin(math.Pi*(phase-0.25)/0.15)
		}
		out[i] = math.Round(v*1000) / 1000
	}
	return out
}
