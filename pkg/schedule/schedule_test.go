package schedule

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func date(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 9, 30, 0, 0, time.UTC)
}

func TestParse(t *testing.T) {
	cs, err := Parse("3:Fri,1:Mon")
	assert.NilError(t, err)
	assert.DeepEqual(t, cs, Constraints{
		{Nth: 3, Weekday: time.Friday},
		{Nth: 1, Weekday: time.Monday},
	})
	assert.Equal(t, cs.String(), "3:Fri,1:Mon")
}

func TestParseEmpty(t *testing.T) {
	cs, err := Parse("")
	assert.NilError(t, err)
	assert.Check(t, is.Len(cs, 0))
	assert.Check(t, cs.Matches(date(time.May, 31)))
}

func TestParseErrors(t *testing.T) {
	cases := map[string]error{
		"3":           ErrSyntax,
		"Fri":         ErrSyntax,
		"x:Fri":       ErrNth,
		"0:Fri":       ErrNth,
		"5:Fri":       ErrNth,
		"-1:Fri":      ErrNth,
		"3:Friday":    ErrWeekday,
		"3:fri":       ErrWeekday,
		"3:":          ErrWeekday,
		"1:Mon,":      ErrSyntax,
		"1:Mon,9:Sun": ErrNth,
	}
	for expr, want := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Check(t, errors.Cause(err) == want, "got %v", err)
		})
	}
}

// May 2024 starts on a Wednesday and has five Fridays: 3, 10, 17, 24, 31.
func TestFridaysOfMay(t *testing.T) {
	fridays := []int{3, 10, 17, 24, 31}
	for i, day := range fridays {
		now := date(time.May, day)
		assert.Equal(t, now.Weekday(), time.Friday)
		for nth := 1; nth <= MaxNth; nth++ {
			c := Constraint{Nth: nth, Weekday: time.Friday}
			want := nth == i+1
			t.Run(fmt.Sprintf("%s on May %d", c, day), func(t *testing.T) {
				assert.Equal(t, c.Matches(now), want)
			})
		}
	}

	all := Constraints{
		{Nth: 1, Weekday: time.Friday},
		{Nth: 2, Weekday: time.Friday},
		{Nth: 3, Weekday: time.Friday},
		{Nth: 4, Weekday: time.Friday},
	}
	assert.Check(t, !all.Matches(date(time.May, 31)), "fifth Friday matches nothing")
	assert.Check(t, all.Matches(date(time.May, 24)))
}

func TestWrongWeekday(t *testing.T) {
	c := Constraint{Nth: 1, Weekday: time.Monday}
	// May 1 2024 is the first Wednesday.
	assert.Check(t, !c.Matches(date(time.May, 1)))
	assert.Check(t, c.Matches(date(time.May, 6)))
}

func TestAnyMatches(t *testing.T) {
	cs, err := Parse("2:Tue,3:Fri")
	assert.NilError(t, err)
	assert.Check(t, cs.Matches(date(time.May, 14)))
	assert.Check(t, cs.Matches(date(time.May, 17)))
	assert.Check(t, !cs.Matches(date(time.May, 15)))
}

func TestOccurrence(t *testing.T) {
	assert.Equal(t, Occurrence(date(time.February, 1)), 1)
	assert.Equal(t, Occurrence(date(time.February, 7)), 1)
	assert.Equal(t, Occurrence(date(time.February, 8)), 2)
	assert.Equal(t, Occurrence(date(time.February, 29)), 5)
}
