//go:build property

package screening

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestScreeningProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("failures never exceed the limit", prop.ForAll(
		func(attempts []string) bool {
			m := NewChallenge("4821", DefaultMaxFailures)
			for _, a := range attempts {
				m.CheckTranscript(a)
				if m.Failures() > DefaultMaxFailures {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.NumString()),
	))

	properties.Property("a verified machine has zero failures", prop.ForAll(
		func(attempts []string) bool {
			m := NewChallenge("4821", DefaultMaxFailures)
			for _, a := range attempts {
				if m.CheckTranscript(a) == Passed && m.Failures() != 0 {
					return false
				}
			}
			return m.Status() != Verified || m.Failures() == 0
		},
		gen.SliceOf(gen.NumString()),
	))

	properties.Property("only the exact code verifies", prop.ForAll(
		func(first, second string) bool {
			m := NewChallenge("4821", 100)
			outcome := m.CheckTranscript(first + " " + second)
			digits := ExtractDigits(first + second)
			switch {
			case digits == "":
				return outcome == Ignored
			case digits == "4821":
				return outcome == Passed
			default:
				return outcome == Retry
			}
		},
		gen.AlphaString(),
		gen.NumString(),
	))

	properties.TestingRun(t)
}
