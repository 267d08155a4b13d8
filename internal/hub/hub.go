package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"wsmon/internal/metrics"
)

// Source produces one metrics record per call. Sample must not fail;
// degraded sources return a record with the error field set.
type Source interface {
	Sample() metrics.Record
}

// Hub owns the broadcast loop: every interval it samples the source,
// serializes the record and fans it out to every registered subscriber,
// pruning members whose delivery fails.
type Hub struct {
	interval time.Duration
	source   Source
	registry *Registry
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Hub broadcasting samples from source to registry members.
func New(interval time.Duration, source Source, registry *Registry, log zerolog.Logger) *Hub {
	return &Hub{
		interval: interval,
		source:   source,
		registry: registry,
		log:      log,
	}
}

// Start launches the broadcast loop goroutine. Idempotent: repeated
// calls while a loop is running do nothing, so a double startup hook
// cannot spawn two loops.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.run(loopCtx, h.done)

	h.log.Info().
		Dur("interval", h.interval).
		Msg("Broadcast loop started")
}

// Stop cancels the broadcast loop, waits for it to finish, then closes
// every remaining subscriber and empties the registry. Close failures
// are swallowed; Stop always completes. Safe to call when not running.
func (h *Hub) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	for _, sub := range h.registry.Snapshot() {
		if err := sub.Close(); err != nil {
			h.log.Debug().Err(err).Str("remote", sub.RemoteAddr()).Msg("Close during shutdown failed")
		}
		h.registry.Remove(sub)
	}

	h.log.Info().Msg("Broadcast loop stopped")
}

// run executes broadcast ticks until the context is cancelled. The
// cancellation itself is swallowed: the loop returns cleanly rather
// than surfacing an error to the controller.
func (h *Hub) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

// broadcast performs one tick: sample, serialize, fan out, prune.
func (h *Hub) broadcast() {
	// No subscribers — skip the sampling work entirely.
	if h.registry.Len() == 0 {
		return
	}

	record := h.source.Sample()
	if record.Error != "" {
		h.log.Warn().Str("error", record.Error).Msg("Sampling degraded, broadcasting error record")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to serialize metrics record")
		return
	}

	// The snapshot is frozen here: members added mid-tick catch the
	// next frame. Every delivery runs in its own goroutine and the
	// tick waits for all of them, so in-flight ticks never pile up.
	subs := h.registry.Snapshot()
	results := make([]error, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub Subscriber) {
			defer wg.Done()
			results[i] = sub.SendText(payload)
		}(i, sub)
	}
	wg.Wait()

	for i, sendErr := range results {
		if sendErr == nil {
			continue
		}
		sub := subs[i]
		h.log.Info().
			Err(sendErr).
			Str("remote", sub.RemoteAddr()).
			Msg("Delivery failed, pruning subscriber")
		sub.Close()
		h.registry.Remove(sub)
	}
}
