package events

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

func TestPublishAssignsSequenceAndTimestamp(t *testing.T) {
	bus := NewBus(4)
	first := bus.Publish(JobAdded(uuid.New()))
	second := bus.Publish(DaemonShutdown())

	require.Equal(t, uint64(1), first.Seq)
	require.Equal(t, uint64(2), second.Seq)
	require.False(t, first.Timestamp.IsZero())
	require.Equal(t, uint64(2), bus.LastSequence())
}

func TestRecentIsBounded(t *testing.T) {
	bus := NewBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish(JobAdded(uuid.New()))
	}
	recent := bus.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(3), recent[0].Seq)
	require.Equal(t, uint64(5), recent[2].Seq)

	require.Len(t, bus.Recent(2), 2)
	require.Equal(t, uint64(5), bus.Recent(1)[0].Seq)
}

func TestEverySubscriberReceivesEvents(t *testing.T) {
	bus := NewBus(0)
	a := bus.Subscribe(4)
	b := bus.Subscribe(4)
	defer a.Close()
	defer b.Close()

	id := uuid.New()
	bus.Publish(JobAdded(id))

	for _, sub := range []*Subscription{a, b} {
		evt := <-sub.C()
		require.Equal(t, KindJobAdded, evt.Kind)
		require.Equal(t, id, evt.JobID)
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(0)
	slow := bus.Subscribe(1)
	fast := bus.Subscribe(8)
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 5; i++ {
		bus.Publish(JobProgress(uuid.New(), job.Stats{Frame: uint64(i)}))
	}

	require.Equal(t, uint64(4), slow.Dropped())
	require.Equal(t, uint64(0), fast.Dropped())
	require.Len(t, fast.C(), 5)
	require.Equal(t, uint64(4), slow.TakeDropped())
	require.Equal(t, uint64(0), slow.Dropped())
}

func TestOrderPreservedPerPublisher(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(64)
	defer sub.Close()

	id := uuid.New()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Publish(JobStarted(id))
		for i := 1; i <= 10; i++ {
			bus.Publish(JobProgress(id, job.Stats{Frame: uint64(i)}))
		}
		bus.Publish(JobCompleted(id))
	}()
	wg.Wait()

	require.Equal(t, KindJobStarted, (<-sub.C()).Kind)
	for i := 1; i <= 10; i++ {
		evt := <-sub.C()
		require.Equal(t, KindJobProgress, evt.Kind)
		require.Equal(t, uint64(i), evt.Stats.Frame)
	}
	require.Equal(t, KindJobCompleted, (<-sub.C()).Kind)
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(2)
	sub.Close()
	sub.Close()
	require.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(DaemonShutdown())
	_, ok := <-sub.C()
	require.False(t, ok)
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(0)
	sub := bus.Subscribe(2)
	bus.Close()

	_, ok := <-sub.C()
	require.False(t, ok)
	sub.Close()

	late := bus.Subscribe(1)
	_, ok = <-late.C()
	require.False(t, ok)
}

func TestJobProgressCopiesStats(t *testing.T) {
	total := uint64(100)
	stats := job.Stats{Frame: 10, TotalFrames: &total}
	evt := JobProgress(uuid.New(), stats)
	total = 5
	require.Equal(t, uint64(100), *evt.Stats.TotalFrames)
}

func TestDependencyEvents(t *testing.T) {
	evt := DepsBuildProgress("svt-av1", 2, 3, "compiling")
	require.Equal(t, KindDepsBuildProgress, evt.Kind)
	require.Equal(t, "svt-av1", evt.Dependency.Name)
	require.False(t, evt.Kind.IsJobEvent())

	failed := DepsBuildFailed("aom", "cmake not found")
	require.Equal(t, "cmake not found", failed.Error)
	require.True(t, JobCancelled(uuid.New()).Kind.IsJobEvent())
}
