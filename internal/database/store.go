package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrCheckpointInconsistent means the stored checkpoint is ahead of every
// committed message row. The archive needs a full re-sync.
var ErrCheckpointInconsistent = errors.New("database: checkpoint ahead of committed messages")

// Metadata keys stored in backup_metadata.
const (
	MetaSchemaVersion = "schema_version"
	MetaEntityName    = "entity_name"
	MetaEntityKind    = "entity_kind"

	checkpointKeyPrefix = "checkpoint:"
)

// Store is the persistence surface of one entity archive. All writes for a
// batch go through SaveBatch so that either the whole batch is visible or
// none of it is; the checkpoint only advances with a committed batch.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveBatch applies every row of the batch and, when batch.Checkpoint
	// is non-zero, advances the entity checkpoint, all in one transaction.
	SaveBatch(ctx context.Context, entityID int64, batch *Batch) error

	// UpsertMediaFile inserts a media record or returns the existing one
	// with the same (hash, size). The returned record always has ID set.
	UpsertMediaFile(ctx context.Context, mf *MediaFile) (*MediaFile, error)

	// FindMediaByHash returns the media record with the given content hash
	// and size, or nil if none exists.
	FindMediaByHash(ctx context.Context, hash string, size int64) (*MediaFile, error)

	// FindMediaByUniqueID returns the media record with the given platform
	// file unique id, or nil if none exists.
	FindMediaByUniqueID(ctx context.Context, uniqueID string) (*MediaFile, error)

	// GetCheckpoint returns the highest committed message id for the
	// entity, or 0 when no sync has completed a batch yet.
	GetCheckpoint(ctx context.Context, entityID int64) (int64, error)

	// SetCheckpoint advances the checkpoint. Values lower than the stored
	// checkpoint are ignored; the watermark is monotonically non-decreasing.
	SetCheckpoint(ctx context.Context, entityID, messageID int64) error

	// MaxMessageID returns the highest message id committed for the entity.
	MaxMessageID(ctx context.Context, entityID int64) (int64, error)

	// CountMessages returns the number of archived messages for the entity.
	CountMessages(ctx context.Context, entityID int64) (int64, error)

	// FetchMessages returns messages in descending id order, paginated.
	FetchMessages(ctx context.Context, entityID int64, limit, offset int) ([]Message, error)

	// SearchMessages returns up to limit messages whose text contains the
	// substring, newest first.
	SearchMessages(ctx context.Context, entityID int64, substr string, limit int) ([]Message, error)

	// GetMetadata reads a backup_metadata value; "" when absent.
	GetMetadata(ctx context.Context, key string) (string, error)

	// SetMetadata writes a backup_metadata value.
	SetMetadata(ctx context.Context, key, value string) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertMessageQuery = `
    INSERT INTO messages (
        id, entity_id, date, text, media_type, media_file, media_hash,
        forwarded, from_id, views, sender_name, reply_to_msg_id, reactions,
        web_preview, extraction_time, is_service_message, is_voice_message,
        is_pinned, user_id, file_id, file_unique_id, file_size, media_file_id
    ) VALUES (
        :id, :entity_id, :date, :text, :media_type, :media_file, :media_hash,
        :forwarded, :from_id, :views, :sender_name, :reply_to_msg_id, :reactions,
        :web_preview, :extraction_time, :is_service_message, :is_voice_message,
        :is_pinned, :user_id, :file_id, :file_unique_id, :file_size, :media_file_id
    )
    ON CONFLICT (id, entity_id) DO UPDATE SET
        date             = excluded.date,
        text             = excluded.text,
        forwarded        = excluded.forwarded,
        from_id          = excluded.from_id,
        views            = excluded.views,
        sender_name      = excluded.sender_name,
        reply_to_msg_id  = excluded.reply_to_msg_id,
        reactions        = excluded.reactions,
        web_preview      = excluded.web_preview,
        extraction_time  = excluded.extraction_time,
        is_service_message = excluded.is_service_message,
        is_voice_message = excluded.is_voice_message,
        is_pinned        = excluded.is_pinned,
        user_id          = excluded.user_id,
        media_type       = COALESCE(excluded.media_type, media_type),
        media_file       = COALESCE(excluded.media_file, media_file),
        media_hash       = COALESCE(excluded.media_hash, media_hash),
        file_id          = COALESCE(excluded.file_id, file_id),
        file_unique_id   = COALESCE(excluded.file_unique_id, file_unique_id),
        file_size        = COALESCE(excluded.file_size, file_size),
        media_file_id    = COALESCE(excluded.media_file_id, media_file_id);`

const upsertReplyQuery = `
    INSERT INTO replies (message_id, entity_id, reply_to_msg_id, quote_text)
    VALUES (:message_id, :entity_id, :reply_to_msg_id, :quote_text)
    ON CONFLICT (message_id, entity_id) DO UPDATE SET
        reply_to_msg_id = excluded.reply_to_msg_id,
        quote_text      = excluded.quote_text;`

const upsertButtonQuery = `
    INSERT INTO buttons (message_id, entity_id, "row", "column", text, data, url)
    VALUES (:message_id, :entity_id, :row, :column, :text, :data, :url)
    ON CONFLICT (message_id, entity_id, "row", "column") DO UPDATE SET
        text = excluded.text,
        data = excluded.data,
        url  = excluded.url;`

const upsertReactionQuery = `
    INSERT INTO reactions (message_id, entity_id, emoji, count)
    VALUES (:message_id, :entity_id, :emoji, :count)
    ON CONFLICT (message_id, entity_id, emoji) DO UPDATE SET
        count = excluded.count;`

// SaveBatch applies the whole batch inside one transaction. This is the
// only write path for message data, which is what makes checkpoint
// advancement crash-safe.
func (s *sqlxStore) SaveBatch(ctx context.Context, entityID int64, batch *Batch) error {
	if batch == nil {
		return errors.New("cannot save nil batch")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back batch transaction", "error", rollbackErr)
			}
		}
	}()

	for i := range batch.Messages {
		if _, err := tx.NamedExecContext(ctx, upsertMessageQuery, &batch.Messages[i]); err != nil {
			return fmt.Errorf("failed to upsert message %d: %w", batch.Messages[i].ID, err)
		}
	}
	for i := range batch.Replies {
		if _, err := tx.NamedExecContext(ctx, upsertReplyQuery, &batch.Replies[i]); err != nil {
			return fmt.Errorf("failed to upsert reply for message %d: %w", batch.Replies[i].MessageID, err)
		}
	}
	for i := range batch.Buttons {
		if _, err := tx.NamedExecContext(ctx, upsertButtonQuery, &batch.Buttons[i]); err != nil {
			return fmt.Errorf("failed to upsert button for message %d: %w", batch.Buttons[i].MessageID, err)
		}
	}
	for i := range batch.Reactions {
		if _, err := tx.NamedExecContext(ctx, upsertReactionQuery, &batch.Reactions[i]); err != nil {
			return fmt.Errorf("failed to upsert reaction for message %d: %w", batch.Reactions[i].MessageID, err)
		}
	}

	if batch.Checkpoint > 0 {
		if err := setCheckpointTx(ctx, tx, entityID, batch.Checkpoint); err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Batch committed",
		"entity_id", entityID,
		"messages", len(batch.Messages),
		"checkpoint", batch.Checkpoint)
	return nil
}

func (s *sqlxStore) UpsertMediaFile(ctx context.Context, mf *MediaFile) (*MediaFile, error) {
	if mf == nil {
		return nil, errors.New("cannot upsert nil media file")
	}
	if mf.FileHash == "" {
		return nil, errors.New("media file must have a content hash")
	}
	if mf.IndexedAt == "" {
		mf.IndexedAt = Now(time.Now())
	}

	existing, err := s.FindMediaByHash(ctx, mf.FileHash, mf.FileSize)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Backfill platform identifiers learned later, keep the stored path.
		if _, err := s.db.ExecContext(ctx, `
            UPDATE media_files SET
                file_unique_id = COALESCE(file_unique_id, ?),
                file_id        = COALESCE(file_id, ?)
            WHERE id = ?`, mf.FileUniqueID, mf.FileID, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to update media file %d: %w", existing.ID, err)
		}
		return existing, nil
	}

	res, err := s.db.NamedExecContext(ctx, `
        INSERT INTO media_files (
            file_path, file_hash, file_size, file_unique_id, file_id,
            media_type, mime_type, file_name, indexed_at
        ) VALUES (
            :file_path, :file_hash, :file_size, :file_unique_id, :file_id,
            :media_type, :mime_type, :file_name, :indexed_at
        )
        ON CONFLICT (file_hash, file_size) DO NOTHING`, mf)
	if err != nil {
		return nil, fmt.Errorf("failed to insert media file: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		mf.ID = id
	}
	if mf.ID == 0 {
		// Lost an insert race inside the same process; fetch the winner.
		winner, err := s.FindMediaByHash(ctx, mf.FileHash, mf.FileSize)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("media file %s vanished after insert", mf.FileHash)
		}
		return winner, nil
	}
	return mf, nil
}

func (s *sqlxStore) FindMediaByHash(ctx context.Context, hash string, size int64) (*MediaFile, error) {
	var mf MediaFile
	err := s.db.GetContext(ctx, &mf,
		`SELECT * FROM media_files WHERE file_hash = ? AND file_size = ? LIMIT 1`, hash, size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up media by hash: %w", err)
	}
	return &mf, nil
}

func (s *sqlxStore) FindMediaByUniqueID(ctx context.Context, uniqueID string) (*MediaFile, error) {
	if uniqueID == "" {
		return nil, nil
	}
	var mf MediaFile
	err := s.db.GetContext(ctx, &mf,
		`SELECT * FROM media_files WHERE file_unique_id = ? LIMIT 1`, uniqueID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up media by unique id: %w", err)
	}
	return &mf, nil
}

func checkpointKey(entityID int64) string {
	return checkpointKeyPrefix + strconv.FormatInt(entityID, 10)
}

func (s *sqlxStore) GetCheckpoint(ctx context.Context, entityID int64) (int64, error) {
	value, err := s.GetMetadata(ctx, checkpointKey(entityID))
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed checkpoint %q: %w", value, err)
	}
	return id, nil
}

const setCheckpointQuery = `
    INSERT INTO backup_metadata (key, value, updated_at)
    VALUES (?, ?, ?)
    ON CONFLICT (key) DO UPDATE SET
        value      = excluded.value,
        updated_at = excluded.updated_at
    WHERE CAST(excluded.value AS INTEGER) > CAST(backup_metadata.value AS INTEGER);`

func (s *sqlxStore) SetCheckpoint(ctx context.Context, entityID, messageID int64) error {
	if messageID <= 0 {
		return fmt.Errorf("checkpoint must be positive, got %d", messageID)
	}
	_, err := s.db.ExecContext(ctx, setCheckpointQuery,
		checkpointKey(entityID), strconv.FormatInt(messageID, 10), Now(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

func setCheckpointTx(ctx context.Context, tx *sqlx.Tx, entityID, messageID int64) error {
	_, err := tx.ExecContext(ctx, setCheckpointQuery,
		checkpointKey(entityID), strconv.FormatInt(messageID, 10), Now(time.Now()))
	return err
}

func (s *sqlxStore) MaxMessageID(ctx context.Context, entityID int64) (int64, error) {
	var max sql.NullInt64
	err := s.db.GetContext(ctx, &max,
		`SELECT MAX(id) FROM messages WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to query max message id: %w", err)
	}
	return max.Int64, nil
}

func (s *sqlxStore) CountMessages(ctx context.Context, entityID int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *sqlxStore) FetchMessages(ctx context.Context, entityID int64, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var messages []Message
	err := s.db.SelectContext(ctx, &messages, `
        SELECT * FROM messages
        WHERE entity_id = ?
        ORDER BY id DESC
        LIMIT ? OFFSET ?`, entityID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

func (s *sqlxStore) SearchMessages(ctx context.Context, entityID int64, substr string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var messages []Message
	err := s.db.SelectContext(ctx, &messages, `
        SELECT * FROM messages
        WHERE entity_id = ? AND text LIKE '%' || ? || '%'
        ORDER BY id DESC
        LIMIT ?`, entityID, substr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return messages, nil
}

func (s *sqlxStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var value sql.NullString
	err := s.db.GetContext(ctx, &value,
		`SELECT value FROM backup_metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return value.String, nil
}

func (s *sqlxStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO backup_metadata (key, value, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT (key) DO UPDATE SET
            value      = excluded.value,
            updated_at = excluded.updated_at`, key, value, Now(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}
