package stream

import (
	"sync"
	"time"

	"github.com/golang/glog"
)

// NotificationBuffer implements the backpressure policy for inbound
// notifications.
//
// While the user is viewing the notification list, arrivals apply
// immediately. While they are not, arrivals queue up to MaxQueued. A flush
// with a small queue replays it in arrival order; a flush past the cap
// discards the queue and refetches incrementally from the server instead,
// so the authoritative order and any server-side filtering is honored rather
// than risking a desynchronized client-side replay.

type NotificationBufferSettings struct {
	MaxQueued int
}

func DefaultNotificationBufferSettings() *NotificationBufferSettings {
	return &NotificationBufferSettings{
		MaxQueued: 40,
	}
}

// issues the incremental refetch with the newest live id as the lower bound
type RefetchFunction func(sinceId string)

// best-effort display side effects. Failures are swallowed.
type DesktopNotifyFunction func(notification *NotificationRecord)
type ChimeFunction func()

type NotificationBuffer struct {
	settings *NotificationBufferSettings
	cache    *EntityCache
	marker   *ReadMarkerSync
	refetch  RefetchFunction
	compare  IdComparator

	// kinds resolved into the cache but never listed or queued
	excludedKinds map[NotificationKind]bool
	// nil means every kind is enabled
	enabledKinds map[NotificationKind]bool

	desktopNotify DesktopNotifyFunction
	chime         ChimeFunction

	stateLock   sync.Mutex
	queued      []*BufferedBatch
	totalQueued int
	liveIds     map[string]bool
	// newest first
	live []*NotificationRecord
}

func NewNotificationBuffer(
	cache *EntityCache,
	marker *ReadMarkerSync,
	refetch RefetchFunction,
	compare IdComparator,
	settings *NotificationBufferSettings,
) *NotificationBuffer {
	return &NotificationBuffer{
		settings: settings,
		cache:    cache,
		marker:   marker,
		refetch:  refetch,
		compare:  compare,
		excludedKinds: map[NotificationKind]bool{
			NotificationChatMention: true,
		},
		liveIds: map[string]bool{},
	}
}

// nil restores the default of every kind enabled
func (self *NotificationBuffer) SetEnabledKinds(enabledKinds map[NotificationKind]bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.enabledKinds = enabledKinds
}

func (self *NotificationBuffer) SetSideEffects(desktopNotify DesktopNotifyFunction, chime ChimeFunction) {
	self.desktopNotify = desktopNotify
	self.chime = chime
}

// Receive applies one inbound notification under the backpressure policy.
// `viewing` is supplied by the caller per dispatch; it is view state, not
// stream state.
func (self *NotificationBuffer) Receive(notification *NotificationRecord, viewing bool) {
	if notification == nil || notification.Id == "" {
		return
	}

	// always resolve the carried entities into the shared cache, even for
	// notifications that never reach the list
	self.cache.UpsertAccount(notification.Account)
	self.cache.UpsertStatus(notification.Status)

	self.stateLock.Lock()
	if self.excludedKinds[notification.Kind] || !self.kindEnabled(notification.Kind) {
		self.stateLock.Unlock()
		return
	}

	if viewing {
		self.applyLive(notification)
		topId := self.topIdLocked()
		self.stateLock.Unlock()

		self.marker.Advance(topId)
		self.fireSideEffects(notification)
		return
	}

	self.queued = append(self.queued, &BufferedBatch{
		Notification: notification,
		ArrivedAt:    time.Now(),
		DisplayActor: displayActor(notification.Account),
	})
	self.totalQueued += 1
	self.stateLock.Unlock()
}

// must hold stateLock
func (self *NotificationBuffer) kindEnabled(kind NotificationKind) bool {
	if self.enabledKinds == nil {
		return true
	}
	return self.enabledKinds[kind]
}

// must hold stateLock. Dedupes by id and keeps the list newest first.
func (self *NotificationBuffer) applyLive(notification *NotificationRecord) {
	if self.liveIds[notification.Id] {
		return
	}
	self.liveIds[notification.Id] = true

	// arrivals are nearly always newest; scan for the insert point so an
	// out-of-order arrival cannot corrupt the order invariant
	i := 0
	for i < len(self.live) && self.compare(notification.Id, self.live[i].Id) < 0 {
		i += 1
	}
	self.live = append(self.live, nil)
	copy(self.live[i+1:], self.live[i:])
	self.live[i] = notification
}

// must hold stateLock
func (self *NotificationBuffer) topIdLocked() string {
	if len(self.live) == 0 {
		return ""
	}
	return self.live[0].Id
}

// Flush drains the queue when the user navigates to the notification view or
// scrolls to top. Every path ends by advancing the read marker.
func (self *NotificationBuffer) Flush() {
	self.stateLock.Lock()

	queued := self.queued
	self.queued = nil

	switch {
	case len(queued) == 0:
		// no-op

	case len(queued) <= self.settings.MaxQueued:
		for _, batch := range queued {
			self.applyLive(batch.Notification)
		}

	default:
		// past the cap the queue may be incomplete relative to what the
		// server would list. Discard it and refetch from the newest id the
		// live list already has.
		sinceId := self.topIdLocked()
		glog.Infof("[nb]queue overflow %d > %d, refetch since_id=%s\n",
			len(queued), self.settings.MaxQueued, sinceId)
		if self.refetch != nil {
			refetch := self.refetch
			go func() {
				defer func() {
					if r := recover(); r != nil {
						glog.Infof("[nb]recovered refetch panic = %v\n", r)
					}
				}()
				refetch(sinceId)
			}()
		}
	}

	topId := self.topIdLocked()
	self.stateLock.Unlock()

	self.marker.Advance(topId)
}

// ApplyPage merges a refetched page into the live list in server order.
func (self *NotificationBuffer) ApplyPage(notifications []*NotificationRecord) {
	self.stateLock.Lock()
	for _, notification := range notifications {
		if notification == nil || notification.Id == "" {
			continue
		}
		self.cache.UpsertAccount(notification.Account)
		self.cache.UpsertStatus(notification.Status)
		if self.excludedKinds[notification.Kind] || !self.kindEnabled(notification.Kind) {
			continue
		}
		self.applyLive(notification)
	}
	topId := self.topIdLocked()
	self.stateLock.Unlock()

	self.marker.Advance(topId)
}

// Clear empties the live list and the queue on an explicit user clear.
func (self *NotificationBuffer) Clear() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.queued = nil
	self.live = nil
	self.liveIds = map[string]bool{}
}

// newest first
func (self *NotificationBuffer) Live() []*NotificationRecord {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := make([]*NotificationRecord, len(self.live))
	copy(out, self.live)
	return out
}

func (self *NotificationBuffer) QueuedCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.queued)
}

// count of notifications that have ever been queued
func (self *NotificationBuffer) TotalQueued() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.totalQueued
}

func (self *NotificationBuffer) TopId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.topIdLocked()
}

func (self *NotificationBuffer) fireSideEffects(notification *NotificationRecord) {
	if self.desktopNotify != nil {
		desktopNotify := self.desktopNotify
		go func() {
			defer func() {
				if r := recover(); r != nil {
					glog.Infof("[nb]recovered desktop notify panic = %v\n", r)
				}
			}()
			desktopNotify(notification)
		}()
	}
	if self.chime != nil {
		chime := self.chime
		go safeCallback(func() {
			chime()
		})
	}
}

func displayActor(account *Account) string {
	if account == nil {
		return ""
	}
	if account.DisplayName != "" {
		return account.DisplayName
	}
	return account.Acct
}
