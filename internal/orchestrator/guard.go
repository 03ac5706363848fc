package orchestrator

import (
	"regexp"
	"strings"
	"time"
)

// Guard thresholds. The cooldown floor applies regardless of configuration.
const (
	minAutoReplyWords = 2
	minAutoReplyChars = 6
	cooldownFloor     = time.Second
	duplicateWindow   = time.Second
)

// guardVerdict classifies one utterance for the auto-reply decision.
type guardVerdict int

const (
	replyAllowed guardVerdict = iota
	replySuppressed
	replyUnsafe
)

// digitRun matches phone-number-like digit sequences that suggest PII.
var digitRun = regexp.MustCompile(`\d{3}[-.\s]?\d{2,3}[-.\s]?\d{4}`)

// profanity is the blocklist for the content safety filter. Matched on word
// boundaries after lowercasing.
var profanity = []string{
	"shit", "fuck", "fucking", "bitch", "asshole", "bastard", "dickhead",
}

// cooldown returns the configured auto-reply cooldown, floored at 1 s.
func (o *Orchestrator) cooldown() time.Duration {
	d := time.Duration(o.cfg.Server.CommandCooldownMs) * time.Millisecond
	if d < cooldownFloor {
		d = cooldownFloor
	}
	return d
}

// shouldAutoReply decides whether a transcribed utterance triggers an NPC
// reply. The session cooldown and the per-user cooldown are independent
// timers; both must have elapsed. Unsafe content is reported separately so
// the caller can emit the held-for-review notice, and never advances the
// cooldown clocks. Caller holds the state lock.
func (o *Orchestrator) shouldAutoReply(rt *Runtime, userID, text string, now time.Time) guardVerdict {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minAutoReplyChars || len(strings.Fields(trimmed)) < minAutoReplyWords {
		return replySuppressed
	}

	if unsafeContent(trimmed) {
		return replyUnsafe
	}

	cd := o.cooldown()
	if !rt.LastAutoReplyAt.IsZero() && now.Sub(rt.LastAutoReplyAt) < cd {
		return replySuppressed
	}
	if last, ok := rt.LastUserAutoReplyAt[userID]; ok && now.Sub(last) < cd {
		return replySuppressed
	}

	if rt.LastDoctorUtterance.Text == trimmed && now.Sub(rt.LastDoctorUtterance.At) < duplicateWindow {
		return replySuppressed
	}

	return replyAllowed
}

// markAutoReply advances both cooldown clocks after a reply was produced.
func (rt *Runtime) markAutoReply(userID string, now time.Time) {
	rt.LastAutoReplyAt = now
	rt.LastUserAutoReplyAt[userID] = now
}

// rememberUtterance records the utterance for duplicate suppression.
func (rt *Runtime) rememberUtterance(text string, now time.Time) {
	rt.LastDoctorUtterance = lastUtterance{Text: strings.TrimSpace(text), At: now}
}

// unsafeContent flags profanity and phone-number-like digit runs.
func unsafeContent(text string) bool {
	if digitRun.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	}) {
		for _, bad := range profanity {
			if w == bad {
				return true
			}
		}
	}
	return false
}
