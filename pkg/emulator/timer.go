package emulator

import (
	"context"
	"runtime"
	"time"
)

// runTimer is the timer actor: it busy-waits for the first tim_cfg write, then
// repeatedly sleeps for the configured period and raises timerInterrupt, exactly the
// reference emulator's timer() thread function, ported from std::thread to a goroutine
// driven by ctx cancellation instead of reading the running flag directly.
func (m *Machine) runTimer(ctx context.Context) {
	for !m.timerStarted.Load() {
		select {
		case <-ctx.Done():
			return
		default:
			runtime.Gosched()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		period := timerPeriodMillis(m.timerCfg.Load())
		timer := time.NewTimer(time.Duration(period) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.timerInterrupt.Store(true)
		}
	}
}
