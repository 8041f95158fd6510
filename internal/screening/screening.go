// Package screening implements caller verification by a spoken or keyed
// 4-digit passcode.
package screening

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// CodeLength is the number of digits in a passcode.
const CodeLength = 4

// DefaultMaxFailures is the number of wrong attempts before the call is dropped.
const DefaultMaxFailures = 3

// Status is the screening state of a call.
type Status int

const (
	// Challenge means the caller must repeat the passcode.
	Challenge Status = iota
	// Verified means the caller may talk to the assistant.
	Verified
)

func (s Status) String() string {
	switch s {
	case Challenge:
		return "challenge"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// Outcome is the result of feeding input to the machine.
type Outcome int

const (
	// Ignored means the input did not trigger an evaluation.
	Ignored Outcome = iota
	// Passed means the code matched and the caller is now verified.
	Passed
	// Retry means the code did not match and the caller may try again.
	Retry
	// Exhausted means the caller reached the failure limit.
	Exhausted
)

func (o Outcome) String() string {
	switch o {
	case Ignored:
		return "ignored"
	case Passed:
		return "passed"
	case Retry:
		return "retry"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Machine holds the screening state of one call. It is not safe for
// concurrent use; the owning call serializes access.
type Machine struct {
	status      Status
	code        string
	entered     strings.Builder
	failures    int
	maxFailures int
}

// NewVerified returns a machine for a recognized caller.
func NewVerified() *Machine {
	return &Machine{status: Verified, maxFailures: DefaultMaxFailures}
}

// NewChallenge returns a machine expecting code. An empty code gets a
// freshly generated one.
func NewChallenge(code string, maxFailures int) *Machine {
	if code == "" {
		code = GenerateCode()
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &Machine{status: Challenge, code: code, maxFailures: maxFailures}
}

// Status returns the current status.
func (m *Machine) Status() Status { return m.status }

// Code returns the expected passcode.
func (m *Machine) Code() string { return m.code }

// Failures returns the number of consecutive failed attempts.
func (m *Machine) Failures() int { return m.failures }

// Exhausted reports whether the failure limit was reached.
func (m *Machine) Exhausted() bool { return m.failures >= m.maxFailures }

// EnterDigit accumulates a keyed digit and evaluates once enough digits
// have been collected. Digits received outside of CHALLENGE are ignored.
func (m *Machine) EnterDigit(d rune) Outcome {
	if m.status != Challenge {
		return Ignored
	}
	if m.Exhausted() {
		return Exhausted
	}
	m.entered.WriteRune(d)
	if m.entered.Len() < CodeLength {
		return Ignored
	}
	entered := m.entered.String()
	m.entered.Reset()
	return m.evaluate(entered)
}

// CheckTranscript evaluates the digits spoken in text. Text without any
// numerals is ignored and not counted as a failure.
func (m *Machine) CheckTranscript(text string) Outcome {
	if m.status != Challenge {
		return Ignored
	}
	if m.Exhausted() {
		return Exhausted
	}
	digits := ExtractDigits(text)
	if digits == "" {
		return Ignored
	}
	return m.evaluate(digits)
}

func (m *Machine) evaluate(candidate string) Outcome {
	if candidate == m.code {
		m.status = Verified
		m.failures = 0
		return Passed
	}
	m.failures++
	if m.Exhausted() {
		return Exhausted
	}
	return Retry
}

// ExtractDigits concatenates the ASCII numerals of text in order.
func ExtractDigits(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// GenerateCode returns CodeLength random digits.
func GenerateCode() string {
	ten := big.NewInt(10)
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b[i] = byte('0' + n.Int64())
	}
	return string(b)
}

// SpokenCode renders "4821" as "4, 8, 2, 1".
func SpokenCode(code string) string {
	parts := make([]string, 0, len(code))
	for _, r := range code {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, ", ")
}
