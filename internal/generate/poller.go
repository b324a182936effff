package generate

import (
	"sync"
	"time"

	"vivagen/internal/providers"
)

// pollHandle is the explicit stop token for one polling loop.
type pollHandle struct {
	stop chan struct{}
	once sync.Once
}

func (h *pollHandle) stopOnce() {
	h.once.Do(func() { close(h.stop) })
}

// startPolling launches the timer-driven status loop for an accepted task.
// At most one loop runs per task id: a second start for the same task is a
// no-op, which makes startup resumption idempotent.
func (d *Dispatcher) startPolling(assetID, taskID string, started time.Time, poller providers.TaskPoller, interval time.Duration) {
	d.mu.Lock()
	if _, running := d.polls[taskID]; running {
		d.mu.Unlock()
		return
	}
	handle := &pollHandle{stop: make(chan struct{})}
	d.polls[taskID] = handle
	d.mu.Unlock()

	go d.pollLoop(assetID, taskID, started, poller, interval, handle)
}

// pollLoop queries the task until a terminal state. There is no attempt cap:
// the loop runs until the provider answers terminally, the credential
// disappears (loop stops without touching the asset, so it can be resumed
// later), or the dispatcher shuts down. Transient poll errors are logged and
// never terminate the job.
func (d *Dispatcher) pollLoop(assetID, taskID string, started time.Time, poller providers.TaskPoller, interval time.Duration, handle *pollHandle) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			d.removePoll(taskID)
			return
		case <-handle.stop:
			d.removePoll(taskID)
			return
		case <-ticker.C:
		}

		if d.credential() == "" {
			d.logger.Warn().Str("task_id", taskID).Msg("generate: credential unavailable, pausing poll")
			d.removePoll(taskID)
			return
		}

		result, err := poller.PollOnce(d.ctx, taskID)
		if err != nil {
			d.logger.Warn().Err(err).Str("task_id", taskID).Msg("generate: poll attempt failed")
			continue
		}

		switch result.State {
		case providers.StateRunning:
			continue
		case providers.StateSucceeded:
			if result.URL == "" {
				// Success without an artifact is a hard failure.
				d.fail(assetID, labelNoImage)
			} else {
				d.complete(assetID, result.URL, started)
			}
		case providers.StateFailed:
			reason := result.Reason
			if reason == "" {
				reason = labelFailed
			}
			d.fail(assetID, reason)
		}
		d.removePoll(taskID)
		return
	}
}

func (d *Dispatcher) removePoll(taskID string) {
	d.mu.Lock()
	delete(d.polls, taskID)
	d.mu.Unlock()
}

// activePolls reports how many polling loops are currently registered.
func (d *Dispatcher) activePolls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.polls)
}

// pollingTask reports whether a loop is registered for the task.
func (d *Dispatcher) pollingTask(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.polls[taskID]
	return ok
}
