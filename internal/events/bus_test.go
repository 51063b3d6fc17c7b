package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return NewBus(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := newTestBus()

	var received []*Event
	bus.Subscribe(PlanGenerated, func(e *Event) { received = append(received, e) })
	bus.Subscribe(DriftEvaluated, func(e *Event) { t.Fatal("wrong type delivered") })

	bus.Emit(PlanGenerated, "rebalancing", map[string]interface{}{"trades": 3})

	require.Len(t, received, 1)
	assert.Equal(t, PlanGenerated, received[0].Type)
	assert.Equal(t, "rebalancing", received[0].Module)
	assert.Equal(t, 3, received[0].Data["trades"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := newTestBus()

	count := 0
	id := bus.Subscribe(LedgerStatusChanged, func(*Event) { count++ })
	bus.Subscribe(LedgerStatusChanged, func(*Event) { count += 10 })
	assert.Equal(t, 2, bus.SubscriberCount(LedgerStatusChanged))

	bus.Unsubscribe(id)
	bus.Unsubscribe(id)
	assert.Equal(t, 1, bus.SubscriberCount(LedgerStatusChanged))

	bus.Emit(LedgerStatusChanged, "ledger", nil)
	assert.Equal(t, 10, count)
}

func TestBus_HandlerPanicIsContained(t *testing.T) {
	bus := newTestBus()

	delivered := false
	bus.Subscribe(ErrorOccurred, func(*Event) { panic("boom") })
	bus.Subscribe(ErrorOccurred, func(*Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Emit(ErrorOccurred, "test", nil) })
	assert.True(t, delivered)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	count := 0
	bus.Subscribe(PricesRefreshed, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(PricesRefreshed, "marketdata", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}

func TestManager_EmitTypedRoundTrip(t *testing.T) {
	bus := newTestBus()
	manager := NewManager(bus, zerolog.New(nil).Level(zerolog.Disabled))

	var got *Event
	bus.Subscribe(LedgerEntryAppended, func(e *Event) { got = e })

	manager.EmitTyped("ledger", &LedgerEntryAppendedData{
		EntryID:     "AL-20240315143000-000001",
		Sequence:    1,
		PortfolioID: "main",
		Hash:        "abc",
	})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*LedgerEntryAppendedData)
	require.True(t, ok)
	assert.Equal(t, "AL-20240315143000-000001", typed.EntryID)
	assert.Equal(t, int64(1), typed.Sequence)
}

func TestManager_EmitError(t *testing.T) {
	bus := newTestBus()
	manager := NewManager(bus, zerolog.New(nil).Level(zerolog.Disabled))

	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	manager.EmitError("scheduler", errors.New("feed down"), map[string]interface{}{"job": "drift_monitor"})

	require.NotNil(t, got)
	typed, ok := got.GetTypedData().(*ErrorEventData)
	require.True(t, ok)
	assert.Equal(t, "feed down", typed.Error)
	assert.Equal(t, "drift_monitor", typed.Context["job"])
}

func TestEvent_GetTypedDataUnknown(t *testing.T) {
	e := &Event{Type: "NOPE", Data: map[string]interface{}{"x": 1}}
	assert.Nil(t, e.GetTypedData())

	e = &Event{Type: PlanGenerated}
	assert.Nil(t, e.GetTypedData())
}

func TestAllEventTypesCovered(t *testing.T) {
	for _, et := range AllEventTypes {
		e := &Event{Type: et, Data: map[string]interface{}{}}
		assert.NotNil(t, e.GetTypedData(), "no typed data for %s", et)
	}
}
