package scraper

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxAge is returned for labels that carry no recognised unit. It is larger
// than any finite recency window.
const MaxAge = time.Duration(math.MaxInt64)

const day = 24 * time.Hour

// ageUnits is checked in order; the first keyword contained in the label wins.
var ageUnits = []struct {
	keyword string
	unit    time.Duration
}{
	{"hour", time.Hour},
	{"day", day},
	{"week", 7 * day},
	{"year", 365 * day},
}

// ErrNegativeCount is wrapped by a ParseError for labels like "-5 hours ago".
var ErrNegativeCount = errors.New("negative count")

// ParseError is returned when a label names a unit but its leading count is
// not an integer.
type ParseError struct {
	Label string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse age %q: %v", e.Label, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseAge converts a relative publish label such as "5 days ago" into the
// age it describes. Years are 365 days. Labels without an hour, day, week
// or year keyword ("Streamed live", "1 second ago") yield MaxAge, as do
// counts too large for a time.Duration. A negative count is a *ParseError
// wrapping ErrNegativeCount.
func ParseAge(label string) (time.Duration, error) {
	for _, u := range ageUnits {
		if !strings.Contains(label, u.keyword) {
			continue
		}
		// label contains a keyword, so it has at least one field.
		n, err := strconv.Atoi(strings.Fields(label)[0])
		if err != nil {
			return 0, &ParseError{Label: label, Err: err}
		}
		if n < 0 {
			return 0, &ParseError{Label: label, Err: ErrNegativeCount}
		}
		if n > int(MaxAge/u.unit) {
			return MaxAge, nil
		}
		return time.Duration(n) * u.unit, nil
	}
	return MaxAge, nil
}
