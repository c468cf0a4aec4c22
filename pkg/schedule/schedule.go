// Package schedule gates runs on "nth weekday of the month" constraints such
// as 3:Fri, the third Friday.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// MaxNth is the highest occurrence a constraint may name. Every month has at
// least four of each weekday; a fifth occurrence never matches.
const MaxNth = 4

var (
	ErrSyntax  = errors.New("invalid date constraint, must match NUM:DAY_ABBR")
	ErrNth     = errors.Errorf("invalid date constraint, number must be between 1 and %d", MaxNth)
	ErrWeekday = errors.New("invalid date constraint, unknown day abbreviation")
)

var weekdays = map[string]time.Weekday{
	"Mon": time.Monday,
	"Tue": time.Tuesday,
	"Wed": time.Wednesday,
	"Thu": time.Thursday,
	"Fri": time.Friday,
	"Sat": time.Saturday,
	"Sun": time.Sunday,
}

// Constraint matches the Nth occurrence of Weekday in a month.
type Constraint struct {
	Nth     int
	Weekday time.Weekday
}

func (c Constraint) String() string {
	return fmt.Sprintf("%d:%s", c.Nth, c.Weekday.String()[:3])
}

// Matches reports whether now is the Nth Weekday of its month.
func (c Constraint) Matches(now time.Time) bool {
	if now.Weekday() != c.Weekday {
		return false
	}
	return Occurrence(now) == c.Nth
}

// Occurrence counts how many times now's weekday occurred in its month up to
// and including now.
func Occurrence(now time.Time) int {
	return (now.Day()-1)/7 + 1
}

// Constraints is a set of constraints of which any one permits a run.
type Constraints []Constraint

// Matches reports whether any constraint matches now. An empty set imposes no
// restriction.
func (cs Constraints) Matches(now time.Time) bool {
	if len(cs) == 0 {
		return true
	}
	for _, c := range cs {
		if c.Matches(now) {
			return true
		}
	}
	return false
}

func (cs Constraints) String() string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Parse reads a comma separated list of NUM:DAY_ABBR constraints. An empty
// expression yields an empty set.
func Parse(expr string) (Constraints, error) {
	if expr == "" {
		return nil, nil
	}
	var cs Constraints
	for _, raw := range strings.Split(expr, ",") {
		c, err := ParseConstraint(raw)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return cs, nil
}

// ParseConstraint reads a single NUM:DAY_ABBR constraint.
func ParseConstraint(raw string) (Constraint, error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return Constraint{}, errors.Wrapf(ErrSyntax, "%q", raw)
	}
	nth, err := strconv.Atoi(parts[0])
	if err != nil || nth < 1 || nth > MaxNth {
		return Constraint{}, errors.Wrapf(ErrNth, "%q", raw)
	}
	day, ok := weekdays[parts[1]]
	if !ok {
		return Constraint{}, errors.Wrapf(ErrWeekday, "%q", raw)
	}
	return Constraint{Nth: nth, Weekday: day}, nil
}
