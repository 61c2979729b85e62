/*
number.go - Human-readable sequential identifier generation

PURPOSE:
  Builds the SR/SH numbers persisted on requests and shipments:

      SR<year4><month2><seq4>    e.g. SR2025110007
      SH<year4><month2><seq4>

  12 characters, sequence zero-padded base-10, scoped per calendar month
  and per kind (requests and shipments are distinct sequence spaces).

SCHEME:
  Read-then-compute: query the store for the lexicographically greatest
  number sharing the month prefix, parse the last four digits, add one.
  First number in a month is 0001.

  This is NOT an atomic counter. Two concurrent creations in the same month
  can compute the same next number; the unique constraint on the number
  column rejects the loser at insert and the engine retries generation
  (maxNumberAttempts), surfacing ConflictError when exhausted. Gaps are
  acceptable, duplicates are not.

SEE ALSO:
  - engine.go: the retry loops around Insert/Complete
  - store/sqlite/sqlite.go: unique indexes backing the guarantee
*/
package workflow

import (
	"fmt"
	"strconv"
	"time"
)

// NumberKind is the two-letter code that opens every identifier.
type NumberKind string

const (
	KindRequest  NumberKind = "SR"
	KindShipment NumberKind = "SH"
)

// maxNumberAttempts bounds the generate-and-insert retry loop.
const maxNumberAttempts = 3

// sequenceWidth is the zero-padded width of the trailing sequence.
const sequenceWidth = 4

// NumberPrefix returns the kind + year + month prefix for identifiers
// generated at the given time, e.g. "SR202511".
func NumberPrefix(kind NumberKind, at time.Time) string {
	return fmt.Sprintf("%s%04d%02d", kind, at.Year(), int(at.Month()))
}

// NextNumber computes the identifier following last within prefix's
// sequence space. last is "" when no identifier shares the prefix yet.
func NextNumber(prefix, last string) (string, error) {
	if last == "" {
		return fmt.Sprintf("%s%0*d", prefix, sequenceWidth, 1), nil
	}
	if len(last) < sequenceWidth {
		return "", fmt.Errorf("malformed identifier %q", last)
	}
	seq, err := strconv.Atoi(last[len(last)-sequenceWidth:])
	if err != nil {
		return "", fmt.Errorf("malformed identifier %q: %w", last, err)
	}
	return fmt.Sprintf("%s%0*d", prefix, sequenceWidth, seq+1), nil
}
