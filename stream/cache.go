package stream

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// EntityCache is the shared store of domain entities mutated by many
// independent handlers. All mutations are whole-entity upserts keyed by id,
// commutative and idempotent (last write wins), so atomic per-key replace is
// the only locking discipline needed.
type EntityCache struct {
	stateLock sync.Mutex

	accounts      map[string]*Account
	statuses      map[string]*Status
	relationships map[string]*Relationship
	chats         map[string]*Chat
	announcements map[string]*Announcement
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		accounts:      map[string]*Account{},
		statuses:      map[string]*Status{},
		relationships: map[string]*Relationship{},
		chats:         map[string]*Chat{},
		announcements: map[string]*Announcement{},
	}
}

func (self *EntityCache) UpsertAccount(account *Account) {
	if account == nil || account.Id == "" {
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.accounts[account.Id] = account
}

func (self *EntityCache) Account(accountId string) *Account {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.accounts[accountId]
}

func (self *EntityCache) UpsertStatus(status *Status) {
	if status == nil || status.Id == "" {
		return
	}
	self.stateLock.Lock()
	self.statuses[status.Id] = status
	self.stateLock.Unlock()
	// a status always carries its author
	self.UpsertAccount(status.Account)
}

func (self *EntityCache) Status(statusId string) *Status {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.statuses[statusId]
}

func (self *EntityCache) RemoveStatus(statusId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.statuses, statusId)
}

func (self *EntityCache) UpsertRelationship(relationship *Relationship) {
	if relationship == nil || relationship.Id == "" {
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.relationships[relationship.Id] = relationship
}

func (self *EntityCache) Relationship(accountId string) *Relationship {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.relationships[accountId]
}

func (self *EntityCache) UpsertChat(chat *Chat) {
	if chat == nil || chat.Id == "" {
		return
	}
	self.stateLock.Lock()
	self.chats[chat.Id] = chat
	self.stateLock.Unlock()
	self.UpsertAccount(chat.Account)
}

func (self *EntityCache) Chat(chatId string) *Chat {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.chats[chatId]
}

func (self *EntityCache) UpsertAnnouncement(announcement *Announcement) {
	if announcement == nil || announcement.Id == "" {
		return
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.announcements[announcement.Id] = announcement
}

func (self *EntityCache) Announcement(announcementId string) *Announcement {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.announcements[announcementId]
}

func (self *EntityCache) RemoveAnnouncement(announcementId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.announcements, announcementId)
}

func (self *EntityCache) AnnouncementIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	ids := maps.Keys(self.announcements)
	sort.Strings(ids)
	return ids
}

func (self *EntityCache) ChatIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	ids := maps.Keys(self.chats)
	sort.Strings(ids)
	return ids
}
