package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestBuffer(refetch RefetchFunction, settings *NotificationBufferSettings) (*NotificationBuffer, *EntityCache, *ReadMarkerSync) {
	cache := NewEntityCache()
	// nil api: the marker sync only tracks the local mirror
	marker := NewReadMarkerSync(nil, DefaultReadMarkerSyncSettings())
	buffer := NewNotificationBuffer(cache, marker, refetch, CompareIds, settings)
	return buffer, cache, marker
}

func TestImmediateApplicationOrdering(t *testing.T) {
	buffer, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	// strictly increasing ids arriving while viewing end newest first, in
	// the same relative order as arrival
	for i := 1; i <= 10; i += 1 {
		buffer.Receive(testNotification(fmt.Sprintf("%d", i), NotificationMention), true)
	}

	live := buffer.Live()
	assert.Equal(t, len(live), 10)
	for i := 0; i < 10; i += 1 {
		assert.Equal(t, live[i].Id, fmt.Sprintf("%d", 10-i))
	}
	assert.Equal(t, buffer.QueuedCount(), 0)
}

func TestBufferThenFlushEquivalence(t *testing.T) {
	immediate, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())
	buffered, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	notifications := []*NotificationRecord{}
	for i := 1; i <= 40; i += 1 {
		notifications = append(notifications, testNotification(fmt.Sprintf("%d", i), NotificationFavourite))
	}

	for _, n := range notifications {
		immediate.Receive(n, true)
		buffered.Receive(n, false)
	}

	assert.Equal(t, buffered.QueuedCount(), 40)
	assert.Equal(t, len(buffered.Live()), 0)

	buffered.Flush()

	assert.Equal(t, buffered.QueuedCount(), 0)
	assert.Equal(t, buffered.Live(), immediate.Live())
}

func TestOverflowTriggersRefetchNotReplay(t *testing.T) {
	settings := &NotificationBufferSettings{
		MaxQueued: 5,
	}

	var refetchLock sync.Mutex
	refetchSinceIds := []string{}
	refetch := func(sinceId string) {
		refetchLock.Lock()
		defer refetchLock.Unlock()
		refetchSinceIds = append(refetchSinceIds, sinceId)
	}

	buffer, _, _ := newTestBuffer(refetch, settings)

	// seed the live list so there is a lower bound for since_id
	buffer.Receive(testNotification("100", NotificationMention), true)

	// MaxQueued+1 notifications buffered while not viewing
	for i := 101; i <= 106; i += 1 {
		buffer.Receive(testNotification(fmt.Sprintf("%d", i), NotificationMention), false)
	}
	assert.Equal(t, buffer.QueuedCount(), 6)

	buffer.Flush()

	// the queue is cleared and none of the buffered items were applied
	assert.Equal(t, buffer.QueuedCount(), 0)
	live := buffer.Live()
	assert.Equal(t, len(live), 1)
	assert.Equal(t, live[0].Id, "100")

	// a refetch is issued with since_id = the newest id already live
	ok := waitFor(time.Second, func() bool {
		refetchLock.Lock()
		defer refetchLock.Unlock()
		return len(refetchSinceIds) == 1
	})
	assert.Equal(t, ok, true)
	refetchLock.Lock()
	assert.Equal(t, refetchSinceIds[0], "100")
	refetchLock.Unlock()
}

func TestSmallFlushDoesNotRefetch(t *testing.T) {
	settings := &NotificationBufferSettings{
		MaxQueued: 5,
	}

	refetched := 0
	buffer, _, _ := newTestBuffer(func(sinceId string) {
		refetched += 1
	}, settings)

	for i := 1; i <= 5; i += 1 {
		buffer.Receive(testNotification(fmt.Sprintf("%d", i), NotificationMention), false)
	}
	buffer.Flush()

	assert.Equal(t, len(buffer.Live()), 5)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, refetched, 0)
}

func TestExcludedKindResolvesEntitiesOnly(t *testing.T) {
	buffer, cache, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	notification := testNotification("1", NotificationChatMention)
	notification.Status = testStatus("s1")
	buffer.Receive(notification, true)

	// entities land in the shared cache
	assert.NotEqual(t, cache.Account("acct-1"), nil)
	assert.NotEqual(t, cache.Status("s1"), nil)

	// but the notification reaches neither the live list nor the queue
	assert.Equal(t, len(buffer.Live()), 0)
	assert.Equal(t, buffer.QueuedCount(), 0)
}

func TestDisabledKindNotApplied(t *testing.T) {
	buffer, cache, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())
	buffer.SetEnabledKinds(map[NotificationKind]bool{
		NotificationMention: true,
	})

	buffer.Receive(testNotification("1", NotificationReblog), true)
	buffer.Receive(testNotification("2", NotificationMention), true)

	assert.NotEqual(t, cache.Account("acct-1"), nil)
	live := buffer.Live()
	assert.Equal(t, len(live), 1)
	assert.Equal(t, live[0].Id, "2")
}

func TestFlushAdvancesMarker(t *testing.T) {
	buffer, _, marker := newTestBuffer(nil, DefaultNotificationBufferSettings())

	for i := 1; i <= 3; i += 1 {
		buffer.Receive(testNotification(fmt.Sprintf("%d", i), NotificationMention), false)
	}
	assert.Equal(t, marker.LastReadId(), "")

	buffer.Flush()
	assert.Equal(t, marker.LastReadId(), "3")
}

func TestImmediateAdvancesMarker(t *testing.T) {
	buffer, _, marker := newTestBuffer(nil, DefaultNotificationBufferSettings())

	buffer.Receive(testNotification("7", NotificationMention), true)
	assert.Equal(t, marker.LastReadId(), "7")
}

func TestDuplicateNotificationAppliedOnce(t *testing.T) {
	buffer, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	notification := testNotification("1", NotificationMention)
	buffer.Receive(notification, true)
	buffer.Receive(notification, true)

	assert.Equal(t, len(buffer.Live()), 1)
}

func TestSideEffectsFireAndForget(t *testing.T) {
	buffer, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	var notifyLock sync.Mutex
	notified := []string{}
	buffer.SetSideEffects(
		func(notification *NotificationRecord) {
			notifyLock.Lock()
			defer notifyLock.Unlock()
			notified = append(notified, notification.Id)
		},
		func() {
			// a panicking chime must not fail the reconciliation path
			panic("no audio device")
		},
	)

	buffer.Receive(testNotification("1", NotificationMention), true)

	ok := waitFor(time.Second, func() bool {
		notifyLock.Lock()
		defer notifyLock.Unlock()
		return len(notified) == 1
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, len(buffer.Live()), 1)

	// buffered notifications do not fire side effects
	buffer.Receive(testNotification("2", NotificationMention), false)
	time.Sleep(20 * time.Millisecond)
	notifyLock.Lock()
	assert.Equal(t, len(notified), 1)
	notifyLock.Unlock()
}

func TestClear(t *testing.T) {
	buffer, _, _ := newTestBuffer(nil, DefaultNotificationBufferSettings())

	buffer.Receive(testNotification("1", NotificationMention), true)
	buffer.Receive(testNotification("2", NotificationMention), false)

	buffer.Clear()
	assert.Equal(t, len(buffer.Live()), 0)
	assert.Equal(t, buffer.QueuedCount(), 0)
}
