package pool

import (
	"time"

	"github.com/tidelock/xapool/internal/metrics"
)

// samplingState implements the periodic rollup of spec §4.5: a handful
// of counters accumulate between sampling ticks, and sample() snapshots
// them into "recent" values before resetting for the next period. The
// three counters reset differently on purpose (mirrors spec §4.5
// verbatim): waitingTime and waiterCount reset to zero, busyMax/busyMin
// reset to the current busy count instead.
type samplingState struct {
	waitingTime time.Duration
	waitingHigh time.Duration

	waiterCount int
	waitersHigh int

	busyMax    int
	busyMin    int
	busyMinSet bool
}

// recordWait adds one completed (or abandoned) wait's elapsed time to
// the running total for this period.
func (s *samplingState) recordWait(d time.Duration) {
	s.waitingTime += d
}

// recordWaiterCount folds the current waiter count into this period's
// peak (spec §4.5's "waiterCount" is itself a running high-water value).
func (s *samplingState) recordWaiterCount(n int) {
	if n > s.waiterCount {
		s.waiterCount = n
	}
}

// recordBusy folds the current busy count into this period's high/low
// water marks.
func (s *samplingState) recordBusy(n int) {
	if n > s.busyMax {
		s.busyMax = n
	}
	if !s.busyMinSet || n < s.busyMin {
		s.busyMin = n
		s.busyMinSet = true
	}
}

// sample rolls the running counters into "recent" snapshots, publishes
// them as gauges, and resets per spec §4.5.
func (s *samplingState) sample(poolName string, currentBusy int) {
	waitingHighRecent := s.waitingTime
	if s.waitingTime > s.waitingHigh {
		s.waitingHigh = s.waitingTime
	}
	s.waitingTime = 0

	waitersHighRecent := s.waiterCount
	if s.waiterCount > s.waitersHigh {
		s.waitersHigh = s.waiterCount
	}
	s.waiterCount = 0

	busyMaxRecent := s.busyMax
	busyMinRecent := s.busyMin
	s.busyMax = currentBusy
	s.busyMin = currentBusy
	s.busyMinSet = true

	metrics.WaitingHigh.WithLabelValues(poolName).Set(s.waitingHigh.Seconds())
	metrics.WaitingHighRecent.WithLabelValues(poolName).Set(waitingHighRecent.Seconds())
	metrics.WaitersHigh.WithLabelValues(poolName).Set(float64(s.waitersHigh))
	metrics.WaitersHighRecent.WithLabelValues(poolName).Set(float64(waitersHighRecent))
	metrics.BusyMax.WithLabelValues(poolName).Set(float64(s.busyMax))
	metrics.BusyMaxRecent.WithLabelValues(poolName).Set(float64(busyMaxRecent))
	metrics.BusyMin.WithLabelValues(poolName).Set(float64(s.busyMin))
	metrics.BusyMinRecent.WithLabelValues(poolName).Set(float64(busyMinRecent))
}
