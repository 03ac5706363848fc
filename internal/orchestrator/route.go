package orchestrator

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/clinsim/voicegate/internal/scenario"
)

// fuzzyThreshold is the minimum Jaro-Winkler score for a noisy STT token to
// count as a keyword hit.
const fuzzyThreshold = 0.88

// characterKeywords routes an utterance to a non-patient character when it
// addresses one explicitly. Declared data; matching is keyword plus phonetic
// fuzz to survive STT noise ("ners" → "nurse"). Slice order is the tie-break
// when an utterance names more than one character.
var characterKeywords = []struct {
	id   string
	keys []string
}{
	{"nurse", []string{"nurse", "nursing"}},
	{"tech", []string{"tech", "technician"}},
	{"consultant", []string{"consultant", "cardiology", "cardiologist", "specialist"}},
	{"imaging", []string{"radiology", "radiologist", "imaging"}},
	{"parent", []string{"mom", "dad", "mother", "father", "parent", "parents"}},
}

// orderKeywords maps utterance keywords onto order types for the voice order
// parser. Multi-word phrases are checked against the raw lowered text first.
// Slice order is the tie-break when an utterance names more than one type.
var orderKeywords = []struct {
	typ  scenario.OrderType
	keys []string
}{
	{scenario.OrderEKG, []string{"ekg", "ecg", "12-lead", "twelve lead", "electrocardiogram"}},
	{scenario.OrderVitals, []string{"vitals", "vital signs"}},
	{scenario.OrderLabs, []string{"labs", "bloods", "blood work", "lab work"}},
	{scenario.OrderImaging, []string{"x-ray", "xray", "chest film", "imaging", "radiograph"}},
	{scenario.OrderCardiacExam, []string{"listen to the heart", "heart sounds", "cardiac exam", "auscultate the heart"}},
	{scenario.OrderLungExam, []string{"listen to the lungs", "lung sounds", "lung exam", "breath sounds"}},
	{scenario.OrderGeneralExam, []string{"general exam", "examine the patient", "physical exam"}},
	{scenario.OrderIVAccess, []string{"iv access", "start an iv", "place an iv", "iv line"}},
}

// orderVerbs gate the order parser: a type keyword alone ("the ekg looks
// fine") must not place an order.
var orderVerbs = []string{
	"order", "get", "obtain", "run", "place", "start", "send", "draw", "need", "want",
}

// routeCharacter classifies an utterance onto a character. Explicit
// addressing of a roster character wins; the default is the patient.
func routeCharacter(text string) (id string, explicit bool) {
	lower := strings.ToLower(text)
	tokens := strings.Fields(lower)

	for _, ch := range characterKeywords {
		for _, key := range ch.keys {
			for _, tok := range tokens {
				tok = strings.Trim(tok, ".,?!:;")
				if tok == key {
					return ch.id, true
				}
				if matchr.JaroWinkler(tok, key, false) >= fuzzyThreshold {
					return ch.id, true
				}
			}
		}
	}
	return "patient", false
}

// parseOrder extracts an order type from an utterance: it needs both an order
// verb and a type keyword. Single-word keywords tolerate phonetic noise via
// Jaro-Winkler; phrases must appear literally.
func parseOrder(text string) (scenario.OrderType, bool) {
	lower := strings.ToLower(text)
	if !containsVerb(lower) {
		return "", false
	}

	tokens := strings.Fields(lower)
	for i := range tokens {
		tokens[i] = strings.Trim(tokens[i], ".,?!:;")
	}

	for _, ord := range orderKeywords {
		for _, key := range ord.keys {
			if strings.Contains(key, " ") || strings.Contains(key, "-") {
				if strings.Contains(lower, key) {
					return ord.typ, true
				}
				continue
			}
			for _, tok := range tokens {
				if tok == key || matchr.JaroWinkler(tok, key, false) >= fuzzyThreshold {
					return ord.typ, true
				}
			}
		}
	}
	return "", false
}

func containsVerb(lower string) bool {
	for _, v := range orderVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
