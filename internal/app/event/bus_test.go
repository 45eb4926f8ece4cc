package event

import (
	"testing"

	"cpc_portal/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitReachesScopedAndGlobalSubscribers(t *testing.T) {
	bus := NewBus()

	var scoped, global []SubmissionUpdate
	bus.OnSubmissionUpdate("sub-1", func(u SubmissionUpdate) { scoped = append(scoped, u) })
	bus.OnAnySubmissionUpdate(func(u SubmissionUpdate) { global = append(global, u) })

	bus.EmitSubmissionUpdate("sub-1", model.StatusAccepted, model.SubmissionResult{TotalTestCases: 3})

	require.Len(t, scoped, 1)
	require.Len(t, global, 1)
	assert.Equal(t, "sub-1", scoped[0].SubmissionID)
	assert.Equal(t, model.StatusAccepted, scoped[0].Status)
	assert.Equal(t, 3, global[0].Result.TotalTestCases)
}

func TestBus_ScopedSubscriberIgnoresOtherSubmissions(t *testing.T) {
	bus := NewBus()

	var got []SubmissionUpdate
	bus.OnSubmissionUpdate("sub-1", func(u SubmissionUpdate) { got = append(got, u) })

	bus.EmitSubmissionUpdate("sub-2", model.StatusWrongAnswer, model.SubmissionResult{})

	assert.Empty(t, got)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := 0
	unsub := bus.OnSubmissionUpdate("sub-1", func(SubmissionUpdate) { calls++ })

	bus.EmitSubmissionUpdate("sub-1", model.StatusAccepted, model.SubmissionResult{})
	unsub()
	unsub() // calling twice is safe
	bus.EmitSubmissionUpdate("sub-1", model.StatusAccepted, model.SubmissionResult{})

	assert.Equal(t, 1, calls)
}

func TestBus_NoReplayForLateSubscribers(t *testing.T) {
	bus := NewBus()

	bus.EmitSubmissionUpdate("sub-1", model.StatusAccepted, model.SubmissionResult{})

	var got []SubmissionUpdate
	bus.OnSubmissionUpdate("sub-1", func(u SubmissionUpdate) { got = append(got, u) })

	assert.Empty(t, got, "events emitted before subscribing are not replayed")
}
