package server

import (
	"slices"
	"sync"

	"github.com/jonathan/lesson-video-pipeline/internal/pipeline"
)

const (
	subscriberBuffer = 64
	// finishedRuns bounds how many terminal events the hub remembers for
	// late subscribers.
	finishedRuns = 1024
)

// ProgressHub fans coordinator progress events out to per-run subscribers.
// Publish never blocks: a subscriber that falls behind loses intermediate
// events, but always receives the terminal run event.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan pipeline.ProgressEvent]struct{}

	// finished keeps the terminal event of recent runs, oldest first in order.
	finished map[string]pipeline.ProgressEvent
	order    []string
}

// NewProgressHub returns an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs:     make(map[string]map[chan pipeline.ProgressEvent]struct{}),
		finished: make(map[string]pipeline.ProgressEvent),
	}
}

// Publish delivers event to the subscribers of its run. It matches
// pipeline.ProgressCallback.
func (h *ProgressHub) Publish(event pipeline.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	terminal := event.Stage == pipeline.StageRun
	if terminal {
		h.remember(event)
	} else {
		// the run id is in use again
		delete(h.finished, event.RunID)
	}
	for ch := range h.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			if terminal {
				// Only the hub sends, under mu, so one receive frees a slot.
				select {
				case <-ch:
				default:
				}
				ch <- event
			}
		}
	}
}

// Subscribe returns a channel of events for runID and a function that
// releases it. A run that already finished yields its terminal event at once.
func (h *ProgressHub) Subscribe(runID string) (<-chan pipeline.ProgressEvent, func()) {
	ch := make(chan pipeline.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan pipeline.ProgressEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	if event, ok := h.finished[runID]; ok {
		ch <- event
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[runID], ch)
			if len(h.subs[runID]) == 0 {
				delete(h.subs, runID)
			}
		})
	}
}

// Subscribers reports how many listeners runID has.
func (h *ProgressHub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// remember stores the terminal event of a run. Caller holds mu.
func (h *ProgressHub) remember(event pipeline.ProgressEvent) {
	h.order = append(h.order, event.RunID)
	h.finished[event.RunID] = event
	for len(h.order) > finishedRuns {
		oldest := h.order[0]
		h.order = h.order[1:]
		if !slices.Contains(h.order, oldest) {
			delete(h.finished, oldest)
		}
	}
}
