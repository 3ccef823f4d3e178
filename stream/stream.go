package stream

import (
	"time"
)

// Entities arriving on the stream are already-normalized records. The engine
// only resolves them into the shared cache and threads their ids through the
// notification and timeline lists; it never interprets their content.

type Account struct {
	Id          string `json:"id"`
	Acct        string `json:"acct,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Url         string `json:"url,omitempty"`
}

type Status struct {
	Id        string    `json:"id"`
	Account   *Account  `json:"account,omitempty"`
	Content   string    `json:"content,omitempty"`
	Url       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// the directed follow state between the local account and another account
type Relationship struct {
	Id         string `json:"id"`
	Following  bool   `json:"following"`
	Requested  bool   `json:"requested"`
	FollowedBy bool   `json:"followed_by"`
	Muting     bool   `json:"muting,omitempty"`
	Blocking   bool   `json:"blocking,omitempty"`
}

type NotificationKind string

const (
	NotificationFollow        NotificationKind = "follow"
	NotificationFollowRequest NotificationKind = "follow_request"
	NotificationMention       NotificationKind = "mention"
	NotificationReblog        NotificationKind = "reblog"
	NotificationFavourite     NotificationKind = "favourite"
	NotificationPoll          NotificationKind = "poll"
	NotificationStatusEdit    NotificationKind = "update"
	NotificationMove          NotificationKind = "move"
	NotificationEmojiReaction NotificationKind = "pleroma:emoji_reaction"
	// chat mentions are surfaced through the chat cache, not the
	// notification list
	NotificationChatMention NotificationKind = "pleroma:chat_mention"
)

type NotificationRecord struct {
	Id        string           `json:"id"`
	Kind      NotificationKind `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Account   *Account         `json:"account"`
	Status    *Status          `json:"status,omitempty"`
}

// one notification held back while the user is not viewing the list,
// together with the display metadata computed at arrival time
type BufferedBatch struct {
	Notification *NotificationRecord
	ArrivedAt    time.Time
	DisplayActor string
}

type Chat struct {
	Id          string       `json:"id"`
	Account     *Account     `json:"account,omitempty"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	Unread      int          `json:"unread"`
}

type ChatMessage struct {
	Id        string    `json:"id"`
	ChatId    string    `json:"chat_id"`
	AccountId string    `json:"account_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Announcement struct {
	Id        string                  `json:"id"`
	Content   string                  `json:"content,omitempty"`
	Reactions []*AnnouncementReaction `json:"reactions,omitempty"`
	Read      bool                    `json:"read,omitempty"`
}

type AnnouncementReaction struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Me    bool   `json:"me,omitempty"`
}

// the persisted cursor for the newest item the user has acknowledged
type ReadMarker struct {
	LastReadId string    `json:"last_read_id"`
	Version    int       `json:"version,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// patch derived from a follow-state transition. Applied to an already-cached
// relationship, never used to create one.
type RelationshipPatch struct {
	TargetAccountId string
	Following       bool
	Requested       bool
}

type BackendDialect int

const (
	DialectMastodon BackendDialect = iota
	// does not honor the generic marker protocol; needs the
	// notifications-read compatibility call in addition
	DialectPleroma
)

func (self BackendDialect) String() string {
	switch self {
	case DialectMastodon:
		return "mastodon"
	case DialectPleroma:
		return "pleroma"
	default:
		return "unknown"
	}
}
