package stream

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Per-kind handlers beyond the notification path. Each performs a narrow
// upsert or remove against its own slice of the cache.

// accept or reject a streamed status for one timeline
type TimelinePredicate func(status *Status) bool

// Timeline is the deduplicating ordered id list for one topic. Statuses
// themselves live in the entity cache; the timeline only orders their ids.
type Timeline struct {
	topic   string
	accept  TimelinePredicate
	cache   *EntityCache
	compare IdComparator

	stateLock sync.Mutex
	ids       map[string]bool
	// newest first
	statusIds []string
}

func NewTimeline(topic string, accept TimelinePredicate, cache *EntityCache, compare IdComparator) *Timeline {
	return &Timeline{
		topic:   topic,
		accept:  accept,
		cache:   cache,
		compare: compare,
		ids:     map[string]bool{},
	}
}

// a new or edited status streamed into the timeline
func (self *Timeline) Update(status *Status) {
	if status == nil || status.Id == "" {
		return
	}
	if self.accept != nil && !self.accept(status) {
		// still resolve the entities; the status may be referenced elsewhere
		self.cache.UpsertStatus(status)
		return
	}
	self.cache.UpsertStatus(status)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.ids[status.Id] {
		return
	}
	self.ids[status.Id] = true

	i := 0
	for i < len(self.statusIds) && self.compare(status.Id, self.statusIds[i]) < 0 {
		i += 1
	}
	self.statusIds = append(self.statusIds, "")
	copy(self.statusIds[i+1:], self.statusIds[i:])
	self.statusIds[i] = status.Id
}

func (self *Timeline) Remove(statusId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if !self.ids[statusId] {
		return
	}
	delete(self.ids, statusId)
	for i, id := range self.statusIds {
		if id == statusId {
			self.statusIds = append(self.statusIds[:i], self.statusIds[i+1:]...)
			break
		}
	}
}

// newest first
func (self *Timeline) StatusIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := make([]string, len(self.statusIds))
	copy(out, self.statusIds)
	return out
}

// registerHandlers wires every known event kind into the router
func (self *StreamEngine) registerHandlers() {
	// new or edited post in the timeline
	self.router.Register("update", func(envelope *EventEnvelope) {
		var status Status
		if err := json.Unmarshal(envelope.Payload, &status); err != nil {
			glog.Infof("[eh]update payload error = %s\n", err)
			return
		}
		self.timeline.Update(&status)
	})

	// in-place edit: upsert only, no list mutation
	self.router.Register("status.update", func(envelope *EventEnvelope) {
		var status Status
		if err := json.Unmarshal(envelope.Payload, &status); err != nil {
			glog.Infof("[eh]status.update payload error = %s\n", err)
			return
		}
		self.cache.UpsertStatus(&status)
	})

	// payload is the bare status id
	self.router.Register("delete", func(envelope *EventEnvelope) {
		statusId := strings.TrimSpace(string(envelope.Payload))
		statusId = strings.Trim(statusId, `"`)
		if statusId == "" {
			return
		}
		self.timeline.Remove(statusId)
		self.cache.RemoveStatus(statusId)
	})

	self.router.Register("notification", func(envelope *EventEnvelope) {
		var notification NotificationRecord
		if err := json.Unmarshal(envelope.Payload, &notification); err != nil {
			glog.Infof("[eh]notification payload error = %s\n", err)
			return
		}
		if notification.Kind == NotificationFollowRequest {
			self.bumpFollowRequestCount(1)
		}
		self.buffer.Receive(&notification, self.Viewing())
	})

	// passive import of a marker pushed by another client or session
	self.router.Register("marker", func(envelope *EventEnvelope) {
		var markers map[string]*ReadMarker
		if err := json.Unmarshal(envelope.Payload, &markers); err != nil {
			glog.Infof("[eh]marker payload error = %s\n", err)
			return
		}
		if marker, ok := markers[self.marker.settings.Timeline]; ok && marker != nil {
			self.marker.Import(marker.LastReadId)
		}
	})

	self.router.Register("pleroma:follow_relationships_update", func(envelope *EventEnvelope) {
		var transition FollowTransition
		if err := json.Unmarshal(envelope.Payload, &transition); err != nil {
			glog.Infof("[eh]follow transition payload error = %s\n", err)
			return
		}
		self.relationships.OnFollowTransition(&transition)
	})

	self.router.Register("pleroma:chat_update", func(envelope *EventEnvelope) {
		var chat Chat
		if err := json.Unmarshal(envelope.Payload, &chat); err != nil {
			glog.Infof("[eh]chat payload error = %s\n", err)
			return
		}
		self.cache.UpsertChat(&chat)
	})

	self.router.Register("announcement", func(envelope *EventEnvelope) {
		var announcement Announcement
		if err := json.Unmarshal(envelope.Payload, &announcement); err != nil {
			glog.Infof("[eh]announcement payload error = %s\n", err)
			return
		}
		self.cache.UpsertAnnouncement(&announcement)
	})

	self.router.Register("announcement.reaction", func(envelope *EventEnvelope) {
		var reaction struct {
			AnnouncementId string `json:"announcement_id"`
			Name           string `json:"name"`
			Count          int    `json:"count"`
		}
		if err := json.Unmarshal(envelope.Payload, &reaction); err != nil {
			glog.Infof("[eh]announcement.reaction payload error = %s\n", err)
			return
		}
		announcement := self.cache.Announcement(reaction.AnnouncementId)
		if announcement == nil {
			return
		}
		next := *announcement
		next.Reactions = patchReaction(announcement.Reactions, reaction.Name, reaction.Count)
		self.cache.UpsertAnnouncement(&next)
	})

	// payload is the bare announcement id
	self.router.Register("announcement.delete", func(envelope *EventEnvelope) {
		announcementId := strings.TrimSpace(string(envelope.Payload))
		announcementId = strings.Trim(announcementId, `"`)
		if announcementId == "" {
			return
		}
		self.cache.RemoveAnnouncement(announcementId)
	})
}

func patchReaction(reactions []*AnnouncementReaction, name string, count int) []*AnnouncementReaction {
	next := make([]*AnnouncementReaction, 0, len(reactions)+1)
	found := false
	for _, reaction := range reactions {
		if reaction.Name == name {
			found = true
			patched := *reaction
			patched.Count = count
			next = append(next, &patched)
		} else {
			next = append(next, reaction)
		}
	}
	if !found {
		next = append(next, &AnnouncementReaction{
			Name:  name,
			Count: count,
		})
	}
	return next
}
