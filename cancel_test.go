package cogo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancelIsCanceledStartsFalse(t *testing.T) {
	c := &Cancel{}
	require.False(t, c.IsCanceled())
}

func TestCancelEdgeTriggeredOnce(t *testing.T) {
	c := &Cancel{}
	c.Cancel()
	require.True(t, c.IsCanceled())
	// A second Cancel call must be a harmless no-op, not a second fire.
	c.Cancel()
	require.True(t, c.IsCanceled())
}

func TestCancelOnEmptySlotIsNoop(t *testing.T) {
	slot := &waitSlot{}
	c := &Cancel{}
	c.associate(slot)
	require.NotPanics(t, c.Cancel)
}

// fakeSlotSource is a minimal EventSource that mirrors only the cancel-
// bookkeeping half of ParkImpl.subscribe: publish the coroutine into slot,
// associate its Cancel record, then re-check for a cancellation that raced
// the publish.
type fakeSlotSource struct{ slot *waitSlot }

func (f *fakeSlotSource) subscribe(co *Coroutine) {
	f.slot.swap(co)
	co.cancel.associate(f.slot)
	if co.cancel.IsCanceled() {
		co.cancel.fire(f.slot)
	}
}

func (f *fakeSlotSource) yieldBack(cancel *Cancel) {}

// TestCancelTakesAssociatedCoroutine exercises the ordering where a
// coroutine is already registered into a slot by the time Cancel runs: the
// slot must be taken and the coroutine resumed with ParaCanceled.
func TestCancelTakesAssociatedCoroutine(t *testing.T) {
	slot := &waitSlot{}
	resultCh := make(chan ParaKind, 1)

	co := Spawn(func() {
		yieldWith(&fakeSlotSource{slot: slot})
		resultCh <- CurrentCoroutine().takePara()
	})

	// Give subscribe a moment to run and associate the slot.
	time.Sleep(10 * time.Millisecond)
	co.Cancel()

	select {
	case p := <-resultCh:
		require.Equal(t, ParaCanceled, p)
	case <-time.After(time.Second):
		t.Fatal("coroutine never resumed after cancel")
	}
	require.Nil(t, slot.take(), "slot must already be empty: Cancel should have taken it")
}

// TestCancelBeforeAssociateIsObservedBySubscribe mirrors what ParkImpl's
// subscribe does: a Cancel landing before the wait-slot is published must
// still be observed once subscribe associates it, since fire()'s
// take-and-schedule only runs once subscribe discovers the flag already set.
func TestCancelBeforeAssociateIsObservedBySubscribe(t *testing.T) {
	slot := &waitSlot{}
	resultCh := make(chan ParaKind, 1)
	entered := make(chan struct{})

	co := Spawn(func() {
		close(entered)
		yieldWith(&fakeSlotSource{slot: slot})
		resultCh <- CurrentCoroutine().takePara()
	})

	<-entered
	co.Cancel() // fires before subscribe has associated anything

	select {
	case p := <-resultCh:
		require.Equal(t, ParaCanceled, p)
	case <-time.After(time.Second):
		t.Fatal("coroutine never resumed after a cancel that preceded association")
	}
}
