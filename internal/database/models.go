package database

import (
	"database/sql"
	"time"
)

// Message is one archived message row. The (ID, EntityID) pair is the
// natural key; re-applying the same message upserts in place.
type Message struct {
	ID       int64          `db:"id"`
	EntityID int64          `db:"entity_id"`
	Date     string         `db:"date"` // RFC 3339
	Text     sql.NullString `db:"text"`

	MediaType sql.NullString `db:"media_type"`
	MediaFile sql.NullString `db:"media_file"`
	MediaHash sql.NullString `db:"media_hash"`

	Forwarded      sql.NullString `db:"forwarded"`
	FromID         sql.NullString `db:"from_id"`
	Views          int            `db:"views"`
	SenderName     sql.NullString `db:"sender_name"`
	ReplyToMsgID   sql.NullInt64  `db:"reply_to_msg_id"`
	Reactions      sql.NullString `db:"reactions"` // denormalized JSON summary
	WebPreview     sql.NullString `db:"web_preview"`
	ExtractionTime string         `db:"extraction_time"`

	IsServiceMessage bool `db:"is_service_message"`
	IsVoiceMessage   bool `db:"is_voice_message"`
	IsPinned         bool `db:"is_pinned"`

	UserID       sql.NullString `db:"user_id"`
	FileID       sql.NullString `db:"file_id"`
	FileUniqueID sql.NullString `db:"file_unique_id"`
	FileSize     sql.NullInt64  `db:"file_size"`
	MediaFileID  sql.NullInt64  `db:"media_file_id"`
}

// Reply is the directed edge from a message to the message it replies to.
// The target need not exist locally; resolution is best-effort.
type Reply struct {
	MessageID    int64          `db:"message_id"`
	EntityID     int64          `db:"entity_id"`
	ReplyToMsgID int64          `db:"reply_to_msg_id"`
	QuoteText    sql.NullString `db:"quote_text"`
}

// Button is one positional interactive affordance on a message. Extracted
// text links are stored at Row -1 so they can never collide with real
// keyboard buttons.
type Button struct {
	MessageID int64          `db:"message_id"`
	EntityID  int64          `db:"entity_id"`
	Row       int            `db:"row"`
	Column    int            `db:"column"`
	Text      sql.NullString `db:"text"`
	Data      sql.NullString `db:"data"`
	URL       sql.NullString `db:"url"`
}

// Reaction is the side-table form of a reaction aggregate. The same data
// is also denormalized into Message.Reactions as JSON.
type Reaction struct {
	MessageID int64  `db:"message_id"`
	EntityID  int64  `db:"entity_id"`
	Emoji     string `db:"emoji"`
	Count     int    `db:"count"`
}

// MediaFile is a deduplicated content record. FileHash together with
// FileSize is the dedup key; multiple messages may reference one row.
type MediaFile struct {
	ID           int64          `db:"id"`
	FilePath     string         `db:"file_path"`
	FileHash     string         `db:"file_hash"`
	FileSize     int64          `db:"file_size"`
	FileUniqueID sql.NullString `db:"file_unique_id"`
	FileID       sql.NullString `db:"file_id"`
	MediaType    sql.NullString `db:"media_type"`
	MIMEType     sql.NullString `db:"mime_type"`
	FileName     sql.NullString `db:"file_name"`
	IndexedAt    string         `db:"indexed_at"`
}

// Batch is the unit of durable commit: every row produced from one fetched
// page, plus the checkpoint value the page advances to. SaveBatch applies
// it in a single transaction.
type Batch struct {
	Messages  []Message
	Replies   []Reply
	Buttons   []Button
	Reactions []Reaction

	// Checkpoint is the highest message id in the batch; 0 leaves the
	// stored checkpoint untouched.
	Checkpoint int64
}

// NullString returns a valid sql.NullString unless s is empty.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullInt64 returns a valid sql.NullInt64 unless v is zero.
func NullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

// Now formats t the way every timestamp column stores time.
func Now(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
