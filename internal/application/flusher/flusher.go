// Package flusher produces reports on a fixed interval.
package flusher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fllarpy/callprof/domain"
)

// Start reports through f every interval and refreshes the runtime metrics
// in store on the same tick. store may be nil. The returned function stops
// the loop and waits for an in-flight report to finish; it is safe to call
// more than once. A non-positive interval starts nothing.
func Start(f domain.Flusher, store domain.StoreWriter, interval time.Duration, logger zerolog.Logger) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer close(finished)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if store != nil {
					store.UpdateRuntime()
				}
				if _, err := f.Report(); err != nil {
					logger.Debug().Err(err).Msg("Periodic report failed")
				}
			}
		}
	}()

	logger.Info().Dur("interval", interval).Msg("Periodic reporting started")

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-finished
			logger.Info().Msg("Periodic reporting stopped")
		})
	}
}
