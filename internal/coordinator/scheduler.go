package coordinator

import (
	"time"

	"scribe/internal/logging"
)

// Scheduler fires sweep runs on a fixed interval. A tick that lands while a
// run is in progress coalesces instead of queueing.
type Scheduler struct {
	coord    *Coordinator
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewScheduler creates a scheduler over the coordinator
func NewScheduler(coord *Coordinator, interval time.Duration) *Scheduler {
	return &Scheduler{
		coord:    coord,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine
func (s *Scheduler) Start() {
	logging.Info("scheduler", "sweeping every %s", s.interval)
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.coord.TryRunOnce("sweep")
		case <-s.stopChan:
			return
		}
	}
}

// Stop halts the sweep loop and waits for it to exit. A run already in
// progress finishes on its own.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	<-s.doneChan
	logging.Info("scheduler", "stopped")
}
