package stream

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// StreamEngine composes the session, router, buffer, marker sync and
// relationship reconciler into the real-time ingestion engine. One engine
// serves one account against one backend.

type StreamEngineSettings struct {
	SessionSettings      *StreamSessionSettings
	BufferSettings       *NotificationBufferSettings
	MarkerSettings       *ReadMarkerSyncSettings
	RelationshipSettings *RelationshipReconcilerSettings

	// nil means every kind is enabled
	EnabledKinds map[NotificationKind]bool

	// accept predicate for streamed timeline statuses; nil accepts all
	TimelineAccept TimelinePredicate

	// bound on refetch pagination after a queue overflow
	MaxRefetchPages int

	DesktopNotify DesktopNotifyFunction
	Chime         ChimeFunction
}

func DefaultStreamEngineSettings() *StreamEngineSettings {
	return &StreamEngineSettings{
		SessionSettings:      DefaultStreamSessionSettings(),
		BufferSettings:       DefaultNotificationBufferSettings(),
		MarkerSettings:       DefaultReadMarkerSyncSettings(),
		RelationshipSettings: DefaultRelationshipReconcilerSettings(),
		MaxRefetchPages:      4,
	}
}

type StreamEngine struct {
	ctx    context.Context
	cancel context.CancelFunc

	api      *Api
	cache    *EntityCache
	settings *StreamEngineSettings

	router        *EventRouter
	buffer        *NotificationBuffer
	marker        *ReadMarkerSync
	relationships *RelationshipReconciler
	timeline      *Timeline

	localAccountId string
	streamUrl      string
	auth           *SessionAuth

	stateLock          sync.Mutex
	session            *StreamSession
	viewing            bool
	followRequestCount int
}

func NewStreamEngine(
	ctx context.Context,
	apiUrl string,
	streamUrl string,
	accessToken string,
	settings *StreamEngineSettings,
) *StreamEngine {
	cancelCtx, cancel := context.WithCancel(ctx)

	localAccountId := ""
	if claims, err := ParseAccessTokenUnverified(accessToken); err == nil {
		localAccountId = claims.AccountId
	} else {
		// tokens from some backends are opaque, not jwts. Follow-transition
		// reconciliation then filters everything out, which is the safe
		// degradation.
		glog.Infof("[se]access token claims unavailable = %s\n", err)
	}

	api := NewApiWithContext(cancelCtx, apiUrl, accessToken)
	cache := NewEntityCache()
	marker := NewReadMarkerSync(api, settings.MarkerSettings)

	engine := &StreamEngine{
		ctx:            cancelCtx,
		cancel:         cancel,
		api:            api,
		cache:          cache,
		settings:       settings,
		router:         NewEventRouter(),
		marker:         marker,
		localAccountId: localAccountId,
		streamUrl:      streamUrl,
		auth: &SessionAuth{
			AccessToken: accessToken,
		},
	}

	engine.buffer = NewNotificationBuffer(
		cache,
		marker,
		engine.refetchNotifications,
		settings.MarkerSettings.Compare,
		settings.BufferSettings,
	)
	engine.buffer.SetEnabledKinds(settings.EnabledKinds)
	engine.buffer.SetSideEffects(settings.DesktopNotify, settings.Chime)

	engine.relationships = NewRelationshipReconciler(
		cancelCtx,
		cache,
		localAccountId,
		settings.RelationshipSettings,
	)

	engine.timeline = NewTimeline(
		"home",
		settings.TimelineAccept,
		cache,
		settings.MarkerSettings.Compare,
	)

	engine.registerHandlers()

	return engine
}

// Open starts the streaming session for one topic. A transport that cannot
// be constructed is a soft failure: the engine stays usable and the host
// degrades to polling.
func (self *StreamEngine) Open(topic string) error {
	session, err := OpenStreamSession(
		self.ctx,
		self.streamUrl,
		topic,
		self.auth,
		self.router.Dispatch,
		self.settings.SessionSettings,
	)
	if err != nil {
		glog.Infof("[se]stream unavailable, degrading to polling = %s\n", err)
		return err
	}

	self.stateLock.Lock()
	previous := self.session
	self.session = session
	self.stateLock.Unlock()

	// close outside the lock; a frame in flight may be holding the session
	// lock while it reaches back into the engine
	if previous != nil {
		previous.Close()
	}
	return nil
}

func (self *StreamEngine) Session() *StreamSession {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.session
}

func (self *StreamEngine) Cache() *EntityCache {
	return self.cache
}

func (self *StreamEngine) Router() *EventRouter {
	return self.router
}

func (self *StreamEngine) Timeline() *Timeline {
	return self.timeline
}

func (self *StreamEngine) Marker() *ReadMarkerSync {
	return self.marker
}

// SetViewing records whether the user is looking at the notification list.
// Navigating to the list flushes the buffer.
func (self *StreamEngine) SetViewing(viewing bool) {
	self.stateLock.Lock()
	wasViewing := self.viewing
	self.viewing = viewing
	self.stateLock.Unlock()

	if viewing && !wasViewing {
		self.buffer.Flush()
	}
}

func (self *StreamEngine) Viewing() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.viewing
}

// Flush is the explicit scroll-to-top signal
func (self *StreamEngine) Flush() {
	self.buffer.Flush()
}

// newest first
func (self *StreamEngine) Notifications() []*NotificationRecord {
	return self.buffer.Live()
}

func (self *StreamEngine) QueuedNotificationCount() int {
	return self.buffer.QueuedCount()
}

func (self *StreamEngine) ClearNotifications() {
	self.buffer.Clear()
	self.stateLock.Lock()
	self.followRequestCount = 0
	self.stateLock.Unlock()
}

func (self *StreamEngine) bumpFollowRequestCount(delta int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.followRequestCount += delta
	if self.followRequestCount < 0 {
		self.followRequestCount = 0
	}
}

func (self *StreamEngine) FollowRequestCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.followRequestCount
}

// the overflow fallback: walk pages from sinceId and merge them, bounded so a
// pathological backlog cannot fetch forever
func (self *StreamEngine) refetchNotifications(sinceId string) {
	pageToken := ""
	for i := 0; i < self.settings.MaxRefetchPages; i += 1 {
		page, err := self.api.GetNotificationsSync(sinceId, pageToken)
		if err != nil {
			// the queue was already discarded; the user simply does not see
			// the missed notifications until the next successful refetch
			glog.Infof("[se]refetch error = %s\n", err)
			return
		}
		if page == nil {
			return
		}
		self.buffer.ApplyPage(page.Notifications)
		if page.NextPageToken == "" {
			return
		}
		pageToken = page.NextPageToken
	}
	glog.Infof("[se]refetch truncated after %d pages\n", self.settings.MaxRefetchPages)
}

// Close tears down the session and discards the results of any in-flight
// marker pushes or refetches.
func (self *StreamEngine) Close() {
	self.stateLock.Lock()
	session := self.session
	self.session = nil
	self.stateLock.Unlock()

	if session != nil {
		session.Close()
	}
	self.cancel()
}
