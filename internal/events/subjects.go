package events

import (
	"fmt"
	"strings"
)

// Subject naming conventions.
//
// Hierarchy:
//   frontdesk.calls.<call_id>.<event_suffix>  - Per-call events
//
// Wildcard subscriptions:
//   frontdesk.calls.*                         - All call events (Redis PSUBSCRIBE)
//   frontdesk.calls.*.ended                   - All call.ended events

const (
	// SubjectPrefix is the root of all frontdesk subjects
	SubjectPrefix = "frontdesk"

	// SubjectCalls is the root of per-call subjects
	SubjectCalls = SubjectPrefix + ".calls"
)

// Subject patterns for common consumer configurations
var (
	// PatternAllCalls matches all call events
	PatternAllCalls = SubjectCalls + ".*"

	// PatternCallEnded matches all call.ended events
	PatternCallEnded = SubjectCalls + ".*.ended"
)

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// SubjectToken makes a call id safe to use as a single subject token.
// SIP Call-IDs commonly contain dots and '@'.
func SubjectToken(id string) string {
	return tokenReplacer.Replace(id)
}

// CallSubject builds a subject for a specific call event.
// Example: CallSubject("abc@10.0.0.1", "ended") => "frontdesk.calls.abc@10_0_0_1.ended"
func CallSubject(callID string, eventSuffix string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectCalls, SubjectToken(callID), eventSuffix)
}
