// Package telegram defines the contract with the remote chat platform.
// The sync engine only ever talks to the Client interface; authentication
// and session lifecycle belong to whatever implements it.
package telegram

import (
	"context"
	"io"
	"time"
)

// EntityKind classifies an archivable entity.
type EntityKind string

const (
	KindPrivate    EntityKind = "private"
	KindGroup      EntityKind = "group"
	KindSupergroup EntityKind = "supergroup"
	KindChannel    EntityKind = "channel"
)

// EntityDescriptor identifies a chat, channel, group, or user that can be
// archived. ID is the platform-assigned stable identifier.
type EntityDescriptor struct {
	ID   int64
	Name string
	Kind EntityKind
}

// Peer is a message sender: a user, a chat, or a channel.
type Peer struct {
	ID   int64
	Name string
}

// Reaction is an aggregate (emoji, count) pair on a message.
type Reaction struct {
	Emoji string
	Count int
}

// Button is one interactive button attached to a message. Data carries the
// callback payload, URL the link target; either may be empty.
type Button struct {
	Text string
	Data string
	URL  string
}

// WebPreview is the link preview the platform rendered for a message.
type WebPreview struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// MediaDescriptor describes a media payload attached to a message, as
// reported by the platform before any bytes are transferred.
type MediaDescriptor struct {
	Type         string // platform media type tag, e.g. "photo", "document"
	FileID       string // platform file reference used to fetch bytes
	FileUniqueID string // platform identifier stable across re-uploads
	Size         int64  // reported size in bytes; 0 if unknown
	MIMEType     string
	FileName     string
	Voice        bool
}

// Message is the raw platform message shape, normalized away from
// platform-specific polymorphic subtypes. The engine converts it into
// database rows; nothing downstream branches on platform types.
type Message struct {
	ID            int64
	Date          time.Time
	Text          string
	From          Peer
	ForwardedFrom string
	ReplyToID     int64
	QuoteText     string
	Pinned        bool
	Views         int
	Service       bool
	Media         *MediaDescriptor
	Reactions     []Reaction
	Buttons       [][]Button
	WebPreview    *WebPreview
}

// Cursor is an explicit pagination position for FetchMessageBatch. A zero
// Cursor means "start from the newest message". MinID constrains the fetch
// to messages with identifiers strictly greater than it (incremental mode).
type Cursor struct {
	OffsetID int64 // fetch messages older than this id; 0 = newest
	MinID    int64 // only messages with id > MinID; 0 = no floor
}

// Client is the pull-based remote client the sync engine consumes.
//
// FetchMessageBatch returns up to pageSize messages ordered newest-first
// when cursor.MinID is zero, oldest-first otherwise, together with the
// cursor for the next page. It returns ErrEndOfHistory (possibly alongside
// a non-empty batch) when no further pages exist.
type Client interface {
	ListEntities(ctx context.Context) ([]EntityDescriptor, error)
	FetchMessageBatch(ctx context.Context, entityID int64, cursor Cursor, pageSize int) ([]Message, Cursor, error)
	FetchMediaBytes(ctx context.Context, desc MediaDescriptor) (io.ReadCloser, error)
}
