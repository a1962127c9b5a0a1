// Package media implements the content-addressed media store. Every
// payload is downloaded at most once per content hash: files land under
// media/ named by their SHA-256 digest, writes go through a temporary file
// and an atomic rename, and concurrent fetches of the same platform file
// collapse into a single in-flight transfer.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/flood"
	"github.com/telegrab/telegrab/internal/telegram"
)

// ErrStorage marks local disk failures (create, write, rename). Unlike
// transfer errors these are fatal for the whole sync pass, not a
// per-message skip.
var ErrStorage = errors.New("media: storage failure")

// Downloader is the transfer half of the remote client contract.
type Downloader interface {
	FetchMediaBytes(ctx context.Context, desc telegram.MediaDescriptor) (io.ReadCloser, error)
}

// Store downloads and deduplicates media for one entity archive.
type Store struct {
	root   string // entity archive directory; stored paths are relative to it
	dir    string // media subdirectory
	db     database.Store
	client Downloader
	policy flood.Policy
	clock  clockwork.Clock
	group  singleflight.Group
	logger *slog.Logger
}

// NewStore creates a media store writing into mediaDir (a subdirectory of
// the entity archive root).
func NewStore(root, mediaDir string, db database.Store, client Downloader, policy flood.Policy, clock clockwork.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		root:   root,
		dir:    mediaDir,
		db:     db,
		client: client,
		policy: policy,
		clock:  clock,
		logger: logger.With("component", "media"),
	}
}

// Fetch resolves a media descriptor to a committed MediaFile row,
// downloading the payload only if no file with the same content exists.
// Concurrent calls for the same platform file share one transfer. The
// at-most-one-transfer guarantee is per platform file id: the content
// hash is only knowable after download, so identical bytes under two
// different platform ids are transferred twice and deduplicated to one
// stored file and one row afterwards.
func (s *Store) Fetch(ctx context.Context, desc telegram.MediaDescriptor) (*database.MediaFile, error) {
	v, err, _ := s.group.Do(s.flightKey(desc), func() (any, error) {
		return s.fetch(ctx, desc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*database.MediaFile), nil
}

func (s *Store) flightKey(desc telegram.MediaDescriptor) string {
	if desc.FileUniqueID != "" {
		return desc.FileUniqueID
	}
	if desc.FileID != "" {
		return desc.FileID
	}
	return desc.FileName + ":" + strconv.FormatInt(desc.Size, 10)
}

func (s *Store) fetch(ctx context.Context, desc telegram.MediaDescriptor) (*database.MediaFile, error) {
	// Cheap pre-download reuse: the platform's stable file id identifies
	// re-sent copies of the same upload without transferring a byte.
	if existing, err := s.db.FindMediaByUniqueID(ctx, desc.FileUniqueID); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.DebugContext(ctx, "Media reused by file id",
			"file_unique_id", desc.FileUniqueID, "path", existing.FilePath)
		return existing, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create media directory: %w", ErrStorage, err)
	}

	hash, size, tmpPath, err := s.download(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	// Content dedup: identical bytes under a different platform id still
	// resolve to the already-stored file.
	if existing, err := s.db.FindMediaByHash(ctx, hash, size); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.DebugContext(ctx, "Media reused by content hash",
			"hash", hash, "path", existing.FilePath)
		return s.backfillIdentifiers(ctx, existing, desc)
	}

	finalName := hash + extensionFor(desc)
	finalPath := filepath.Join(s.dir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("%w: failed to move media into place: %w", ErrStorage, err)
	}
	tmpPath = ""

	relPath, err := filepath.Rel(s.root, finalPath)
	if err != nil {
		relPath = filepath.Join(filepath.Base(s.dir), finalName)
	}
	mf := &database.MediaFile{
		FilePath:     relPath,
		FileHash:     hash,
		FileSize:     size,
		FileUniqueID: database.NullString(desc.FileUniqueID),
		FileID:       database.NullString(desc.FileID),
		MediaType:    database.NullString(desc.Type),
		MIMEType:     database.NullString(desc.MIMEType),
		FileName:     database.NullString(desc.FileName),
	}
	committed, err := s.db.UpsertMediaFile(ctx, mf)
	if err != nil {
		// The row is gone but the bytes are valid; leave the file for the
		// next run's hash lookup rather than re-downloading.
		return nil, fmt.Errorf("failed to commit media file: %w", err)
	}
	s.logger.InfoContext(ctx, "Media downloaded",
		"hash", hash, "bytes", size, "path", committed.FilePath)
	return committed, nil
}

// download transfers the payload into a temporary file, hashing as it
// writes. Transfers are retried under the flood policy; the temporary file
// is never observable under its final name.
func (s *Store) download(ctx context.Context, desc telegram.MediaDescriptor) (hash string, size int64, tmpPath string, err error) {
	attempt := 0
	for {
		hash, size, tmpPath, err = s.transferOnce(ctx, desc)
		if err == nil {
			return hash, size, tmpPath, nil
		}
		attempt++
		decision := s.policy.Decide(err, attempt)
		switch decision.Action {
		case flood.Abort:
			return "", 0, "", fmt.Errorf("media transfer failed after %d attempts: %w", attempt, err)
		case flood.RetryAfter:
			s.logger.WarnContext(ctx, "Media transfer failed, backing off",
				"attempt", attempt, "wait", decision.Wait, "error", err)
			select {
			case <-ctx.Done():
				return "", 0, "", ctx.Err()
			case <-s.clock.After(decision.Wait):
			}
		case flood.RetryImmediately:
		}
	}
}

func (s *Store) transferOnce(ctx context.Context, desc telegram.MediaDescriptor) (string, int64, string, error) {
	body, err := s.client.FetchMediaBytes(ctx, desc)
	if err != nil {
		return "", 0, "", err
	}
	defer func() {
		_ = body.Close()
	}()

	tmp, err := os.CreateTemp(s.dir, ".download-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: failed to create temp file: %w", ErrStorage, err)
	}
	tmpPath := tmp.Name()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), body)
	closeErr := tmp.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("media transfer interrupted: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("%w: failed to finish media write: %w", ErrStorage, closeErr)
	}
	return hex.EncodeToString(h.Sum(nil)), n, tmpPath, nil
}

func (s *Store) backfillIdentifiers(ctx context.Context, existing *database.MediaFile, desc telegram.MediaDescriptor) (*database.MediaFile, error) {
	existing.FileUniqueID = database.NullString(desc.FileUniqueID)
	existing.FileID = database.NullString(desc.FileID)
	return s.db.UpsertMediaFile(ctx, existing)
}

// extensionFor picks a filename extension from the descriptor, preferring
// the original file name, then the MIME type.
func extensionFor(desc telegram.MediaDescriptor) string {
	if ext := filepath.Ext(desc.FileName); ext != "" {
		return ext
	}
	if desc.MIMEType != "" {
		if exts, err := mime.ExtensionsByType(desc.MIMEType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	return ".bin"
}
