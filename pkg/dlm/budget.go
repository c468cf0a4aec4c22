package dlm

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	waitSleepMin = 10
	waitSleepMax = 60
	// waitOverhead is added to every sleep when accounting for the time spent
	// waiting, covering the requests made between sleeps.
	waitOverhead = 2
)

// waitBudget spaces out acquire attempts by a random number of seconds and
// gives up once the accounted waiting time exceeds max.
type waitBudget struct {
	max    int
	waited int
	unit   time.Duration
	intn   func(n int) int
}

var _ backoff.BackOff = (*waitBudget)(nil)

func newWaitBudget(maxSeconds int, unit time.Duration, intn func(int) int) *waitBudget {
	if intn == nil {
		intn = rand.Intn
	}
	return &waitBudget{max: maxSeconds, unit: unit, intn: intn}
}

// NextBackOff returns the next sleep, or backoff.Stop when the budget is
// spent. The budget is checked before sleeping, so the accounted wait always
// exceeds max when it stops.
func (b *waitBudget) NextBackOff() time.Duration {
	if b.waited > b.max {
		return backoff.Stop
	}
	sleep := waitSleepMin + b.intn(waitSleepMax-waitSleepMin+1)
	b.waited += sleep + waitOverhead
	return time.Duration(sleep) * b.unit
}

func (b *waitBudget) Reset() {
	b.waited = 0
}

// Waited is the accounted waiting time in seconds.
func (b *waitBudget) Waited() int {
	return b.waited
}
