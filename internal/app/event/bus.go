// Package event carries submission status changes to in-process listeners
// (e.g. the live-status endpoint) without them polling the database. One Bus
// is constructed in main and injected wherever it is needed. There is no
// replay: a listener that was not subscribed at emit time misses the event.
package event

import (
	"sync"

	"cpc_portal/internal/domain/model"
)

// SubmissionUpdate is published whenever a submission's status changes.
type SubmissionUpdate struct {
	SubmissionID string                 `json:"submission_id"`
	Status       model.SubmissionStatus `json:"status"`
	Result       model.SubmissionResult `json:"result"`
}

type Callback func(SubmissionUpdate)

type Bus struct {
	mu     sync.Mutex
	nextID int
	perSub map[string]map[int]Callback // keyed by submission id
	any    map[int]Callback
}

func NewBus() *Bus {
	return &Bus{
		perSub: make(map[string]map[int]Callback),
		any:    make(map[int]Callback),
	}
}

// EmitSubmissionUpdate publishes to the submission-scoped channel and the
// global one. Callbacks run synchronously on the caller's goroutine, outside
// the bus lock.
func (b *Bus) EmitSubmissionUpdate(submissionID string, status model.SubmissionStatus, result model.SubmissionResult) {
	update := SubmissionUpdate{SubmissionID: submissionID, Status: status, Result: result}

	b.mu.Lock()
	callbacks := make([]Callback, 0, len(b.perSub[submissionID])+len(b.any))
	for _, cb := range b.perSub[submissionID] {
		callbacks = append(callbacks, cb)
	}
	for _, cb := range b.any {
		callbacks = append(callbacks, cb)
	}
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(update)
	}
}

// OnSubmissionUpdate subscribes to one submission's updates. The returned
// function unsubscribes; calling it more than once is safe.
func (b *Bus) OnSubmissionUpdate(submissionID string, cb Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.perSub[submissionID] == nil {
		b.perSub[submissionID] = make(map[int]Callback)
	}
	b.perSub[submissionID][id] = cb

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.perSub[submissionID], id)
		if len(b.perSub[submissionID]) == 0 {
			delete(b.perSub, submissionID)
		}
	}
}

// OnAnySubmissionUpdate subscribes to every submission's updates.
func (b *Bus) OnAnySubmissionUpdate(cb Callback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.any[id] = cb

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.any, id)
	}
}
