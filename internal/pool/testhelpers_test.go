package pool

import (
	"time"

	"github.com/tidelock/xapool/internal/config"
)

// testOptions returns a small, fast pool configuration suitable for
// exercising the acquire/release/adjust paths without real timers
// dominating test runtime.
func testOptions() config.PoolOptions {
	return config.PoolOptions{
		PoolMin:        1,
		PoolMax:        3,
		MaxAge:         time.Hour,
		MaxOpenTime:    time.Hour,
		WaiterTimeout:  200 * time.Millisecond,
		MaxWaiters:     5,
		CheckLevel:     0,
		PstmtMax:       4,
		SamplingPeriod: time.Hour,
	}
}
