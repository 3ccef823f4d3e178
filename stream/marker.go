package stream

import (
	"sync"

	"github.com/golang/glog"
)

// ReadMarkerSync tracks the highest-ordered notification the user has seen
// and persists that position to the remote marker store.
//
// The local mirror is monotonically non-decreasing: a client must never push
// a marker older than one already acknowledged. The push decision is made
// under a single lock so concurrent advances cannot race each other into
// reversing marker order. Pushes are fire-and-forget; a failed push is not
// retried here because the next advance naturally carries an equal-or-newer
// id.

type ReadMarkerSyncSettings struct {
	// the stream topic the marker is keyed by
	Timeline string
	Dialect  BackendDialect
	Compare  IdComparator
}

func DefaultReadMarkerSyncSettings() *ReadMarkerSyncSettings {
	return &ReadMarkerSyncSettings{
		Timeline: "notifications",
		Dialect:  DialectMastodon,
		Compare:  CompareIds,
	}
}

type ReadMarkerSync struct {
	api      *Api
	settings *ReadMarkerSyncSettings

	stateLock  sync.Mutex
	lastReadId string
}

func NewReadMarkerSync(api *Api, settings *ReadMarkerSyncSettings) *ReadMarkerSync {
	return &ReadMarkerSync{
		api:      api,
		settings: settings,
	}
}

// Advance pushes `topId` to the marker store if it is strictly newer than the
// last acknowledged id, or if no marker has ever been acknowledged.
func (self *ReadMarkerSync) Advance(topId string) {
	if topId == "" {
		return
	}

	self.stateLock.Lock()
	if self.lastReadId != "" && self.settings.Compare(topId, self.lastReadId) <= 0 {
		self.stateLock.Unlock()
		return
	}
	self.lastReadId = topId
	self.stateLock.Unlock()

	glog.V(2).Infof("[rm]advance %s = %s\n", self.settings.Timeline, topId)

	if self.api == nil {
		return
	}

	self.api.SaveMarker(self.settings.Timeline, topId, NewApiCallback(
		func(result SaveMarkerResult, err error) {
			if err != nil {
				glog.Infof("[rm]save marker error = %s\n", err)
			}
		},
	))

	if self.settings.Dialect == DialectPleroma {
		// this dialect does not honor the generic marker protocol; issue the
		// compatibility call in parallel with the same id
		self.api.MarkNotificationsRead(topId, NewApiCallback(
			func(result NotificationsReadResult, err error) {
				if err != nil {
					glog.Infof("[rm]notifications read error = %s\n", err)
				}
			},
		))
	}
}

// Import accepts a marker pushed by another client or session. It only ever
// raises the local mirror; no remote push is issued for an imported marker.
func (self *ReadMarkerSync) Import(lastReadId string) {
	if lastReadId == "" {
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.lastReadId != "" && self.settings.Compare(lastReadId, self.lastReadId) <= 0 {
		return
	}
	self.lastReadId = lastReadId
}

func (self *ReadMarkerSync) LastReadId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.lastReadId
}
