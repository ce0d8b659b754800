package nationstates

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Antiquity is the founding label for nations that predate NationStates'
// first-login tracking, or whose founding time cannot be read. It is the
// earliest representable platform datetime, so any "founded at least N days
// ago" requirement is satisfied.
const Antiquity = "1970-01-01T00:00:00.000Z"

// Founded is a nation's founding time: either epoch seconds or a display label.
type Founded struct {
	Unix  int64
	Label string
}

// FoundedAt returns a Founded for a known epoch-seconds time.
func FoundedAt(unix int64) Founded {
	return Founded{Unix: unix}
}

// FoundedInAntiquity returns the sentinel Founded for unknown founding times.
func FoundedInAntiquity() Founded {
	return Founded{Label: Antiquity}
}

// Known reports whether f carries an epoch time rather than a label.
func (f Founded) Known() bool {
	return f.Label == ""
}

// Result is the outcome of a verification: Success or Denied.
type Result interface {
	isResult()
}

// Success is a passed verification with the nation's profile fields.
type Success struct {
	// Nation is the normalized nation id that was verified.
	Nation     string
	Name       string
	WAMember   bool
	Population int64
	Founded    Founded
}

// Denied is any verification that did not pass. Err is set when the denial
// came from a transport or parse failure rather than a rejected checksum.
type Denied struct {
	Reason string
	Err    error
}

func (Success) isResult() {}
func (Denied) isResult()  {}

// NormalizeNation returns the canonical nation id: trimmed, lowercased, with
// spaces replaced by underscores, so "Testlandia", "testlandia" and
// " test landia " style inputs compare equal to NationStates' own ids.
func NormalizeNation(nation string) string {
	// Casers are stateful; a fresh one per call keeps this safe for concurrent use.
	s := cases.Lower(language.Und).String(strings.TrimSpace(nation))
	return strings.ReplaceAll(s, " ", "_")
}
