// Package archive manages the on-disk layout of entity backups: one
// directory per entity named {id}_{name}, holding backup.db and a media/
// subdirectory of content-addressed files.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/telegrab/telegrab/internal/telegram"
)

const (
	dbFileName   = "backup.db"
	mediaDirName = "media"

	// diskHeadroom is kept free when sizing media downloads; running the
	// disk to zero corrupts nothing but helps nobody.
	diskHeadroom = 500 * 1024 * 1024
)

var unsafeChars = regexp.MustCompile(`[^\w\-. ]`)

// SanitizeName replaces filesystem-hostile characters with underscores.
func SanitizeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Layout is the resolved on-disk location of one entity's archive.
type Layout struct {
	Dir      string
	DBPath   string
	MediaDir string
}

// DirName returns the directory name for an entity: "{id}_{name}",
// sanitized.
func DirName(ent telegram.EntityDescriptor) string {
	return SanitizeName(fmt.Sprintf("%d_%s", ent.ID, ent.Name))
}

// Open resolves (and creates, if missing) the archive directory for an
// entity under baseDir. The media directory is created lazily by the media
// store; Open only guarantees the entity directory itself.
func Open(baseDir string, ent telegram.EntityDescriptor) (*Layout, error) {
	dir := filepath.Join(baseDir, DirName(ent))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory %s: %w", dir, err)
	}
	return &Layout{
		Dir:      dir,
		DBPath:   filepath.Join(dir, dbFileName),
		MediaDir: filepath.Join(dir, mediaDirName),
	}, nil
}

// Find locates an existing archive for the entity by scanning baseDir for
// a directory named "{id}_...". It never creates anything; use Open when a
// sync should start a fresh archive.
func Find(baseDir string, entityID int64) (*Layout, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory %s: %w", baseDir, err)
	}
	prefix := fmt.Sprintf("%d_", entityID)
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		dir := filepath.Join(baseDir, e.Name())
		return &Layout{
			Dir:      dir,
			DBPath:   filepath.Join(dir, dbFileName),
			MediaDir: filepath.Join(dir, mediaDirName),
		}, nil
	}
	return nil, fmt.Errorf("no archive for entity %d under %s", entityID, baseDir)
}

// EnsureMediaDir creates the media subdirectory if it does not exist.
func (l *Layout) EnsureMediaDir() error {
	if err := os.MkdirAll(l.MediaDir, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", l.MediaDir, err)
	}
	return nil
}

// DiskFree reports free bytes on the filesystem holding path. It is a
// variable so tests can simulate a full disk.
var DiskFree = diskFree

// HasSpaceFor reports whether the archive's filesystem can absorb
// required bytes while keeping the safety headroom. When free space cannot
// be determined the check passes; an unknown filesystem should not block a
// backup.
func (l *Layout) HasSpaceFor(required int64) bool {
	free, err := DiskFree(l.Dir)
	if err != nil {
		return true
	}
	return free > required+diskHeadroom
}
