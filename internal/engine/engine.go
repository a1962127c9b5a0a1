// Package engine orchestrates the sync of one entity's message history:
// paginated fetch, normalization, media retrieval, transactional commit,
// and checkpoint advancement. A sync session is internally sequential;
// only media downloads within a batch run in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/telegrab/telegrab/internal/archive"
	"github.com/telegrab/telegrab/internal/database"
	"github.com/telegrab/telegrab/internal/flood"
	"github.com/telegrab/telegrab/internal/media"
	"github.com/telegrab/telegrab/internal/telegram"
)

// State is the engine's position in the sync state machine.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateCommitting
	StateWaiting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateCommitting:
		return "committing"
	case StateWaiting:
		return "waiting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNoCheckpoint is returned when an incremental sync is requested for an
// entity that has never completed a batch.
var ErrNoCheckpoint = errors.New("engine: incremental sync requires an existing checkpoint")

// ErrDiskFull is returned when the archive filesystem cannot absorb the
// next media batch while keeping the safety headroom.
var ErrDiskFull = errors.New("engine: not enough disk space for media batch")

// Options control one Sync invocation.
type Options struct {
	// Limit caps the number of messages fetched; 0 means unbounded.
	Limit int
	// DownloadMedia enables media retrieval through the media store.
	DownloadMedia bool
	// Incremental resumes from the stored checkpoint instead of walking
	// the full history. Requires an existing checkpoint.
	Incremental bool
	// PageSize is the per-request batch size. Defaults to 100.
	PageSize int
	// MediaWorkers bounds parallel media downloads per batch. Defaults to 4.
	MediaWorkers int
}

func (o *Options) applyDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.MediaWorkers <= 0 {
		o.MediaWorkers = 4
	}
}

// Result summarizes one sync pass. A pass with skipped items is still a
// success; only entity-level and storage-level failures return an error.
type Result struct {
	Processed       int
	Skipped         int
	MediaDownloaded int
	MediaSkipped    int
	Batches         int
	Checkpoint      int64
}

// Config wires an Engine. Client, Store, and Logger are required; Media
// and Layout are only needed when media download is requested.
type Config struct {
	Client telegram.Client
	Store  database.Store
	Media  *media.Store
	Layout *archive.Layout
	Policy flood.Policy
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Engine runs sync sessions. One Engine serves one entity archive; run
// multiple engines for concurrent entities.
type Engine struct {
	client telegram.Client
	store  database.Store
	media  *media.Store
	layout *archive.Layout
	policy flood.Policy
	clock  clockwork.Clock
	logger *slog.Logger
	state  State
}

// New validates the configuration and creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("engine: client is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("engine: logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Policy == (flood.Policy{}) {
		cfg.Policy = flood.DefaultPolicy()
	}
	return &Engine{
		client: cfg.Client,
		store:  cfg.Store,
		media:  cfg.Media,
		layout: cfg.Layout,
		policy: cfg.Policy,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "engine"),
		state:  StateIdle,
	}, nil
}

// State returns the engine's current state. Sync is sequential, so this is
// only meaningful from the goroutine running Sync or after it returns.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) setState(s State) {
	if e.state != s {
		e.logger.Debug("State transition", "from", e.state.String(), "to", s.String())
		e.state = s
	}
}

// Sync archives the entity's history according to opts. It returns the
// result summary together with any entity- or storage-level error; batches
// committed before the error remain committed, and the checkpoint reflects
// them.
func (e *Engine) Sync(ctx context.Context, ent telegram.EntityDescriptor, opts Options) (*Result, error) {
	opts.applyDefaults()
	res := &Result{}
	e.setState(StateIdle)

	if opts.DownloadMedia && e.media == nil {
		return res, errors.New("engine: media download requested but no media store configured")
	}

	tracker := checkpointTracker{store: e.store, entityID: ent.ID}
	cp, err := tracker.load(ctx)
	if err != nil {
		e.setState(StateFailed)
		return res, err
	}
	if opts.Incremental && cp == 0 {
		return res, ErrNoCheckpoint
	}
	res.Checkpoint = cp

	// Display-name refresh: the entity row is never mutated otherwise.
	if err := e.store.SetMetadata(ctx, database.MetaEntityName, ent.Name); err != nil {
		e.setState(StateFailed)
		return res, err
	}
	if err := e.store.SetMetadata(ctx, database.MetaEntityKind, string(ent.Kind)); err != nil {
		e.setState(StateFailed)
		return res, err
	}

	cursor := telegram.Cursor{}
	if opts.Incremental {
		cursor.MinID = cp
	}

	e.logger.Info("Sync started",
		"entity_id", ent.ID,
		"entity", ent.Name,
		"incremental", opts.Incremental,
		"checkpoint", cp,
		"limit", opts.Limit)

	extractionTime := database.Now(e.clock.Now())

	for {
		pageSize := opts.PageSize
		if opts.Limit > 0 {
			remaining := opts.Limit - res.Processed - res.Skipped
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		msgs, next, fetchErr := e.fetchBatch(ctx, ent.ID, cursor, pageSize)
		if fetchErr != nil && !errors.Is(fetchErr, telegram.ErrEndOfHistory) {
			e.setState(StateFailed)
			if errors.Is(fetchErr, telegram.ErrEntityInaccessible) {
				return res, fmt.Errorf("entity %d (%s): %w", ent.ID, ent.Name, fetchErr)
			}
			return res, fetchErr
		}
		if len(msgs) == 0 {
			break
		}

		e.setState(StateProcessing)
		batch, err := e.buildBatch(ctx, ent.ID, msgs, opts, extractionTime, res)
		if err != nil {
			e.setState(StateFailed)
			return res, err
		}

		e.setState(StateCommitting)
		// A cancellation arriving before the commit is a cancellation,
		// not a storage failure; the batch is simply never committed.
		if err := ctx.Err(); err != nil {
			e.setState(StateFailed)
			return res, err
		}
		if err := e.store.SaveBatch(ctx, ent.ID, batch); err != nil {
			e.setState(StateFailed)
			return res, fmt.Errorf("storage failure: %w", err)
		}
		res.Batches++
		if batch.Checkpoint > res.Checkpoint {
			res.Checkpoint = batch.Checkpoint
		}
		cursor = next

		if errors.Is(fetchErr, telegram.ErrEndOfHistory) {
			break
		}
	}

	e.setState(StateDone)
	e.logger.Info("Sync finished",
		"entity_id", ent.ID,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"media_downloaded", res.MediaDownloaded,
		"media_skipped", res.MediaSkipped,
		"checkpoint", res.Checkpoint)
	return res, nil
}

// fetchBatch requests one page, retrying under the flood policy. The
// Waiting state is entered for every policy-imposed delay; the injected
// clock makes the wait testable without real time.
func (e *Engine) fetchBatch(ctx context.Context, entityID int64, cursor telegram.Cursor, pageSize int) ([]telegram.Message, telegram.Cursor, error) {
	attempt := 0
	for {
		e.setState(StateFetching)
		msgs, next, err := e.client.FetchMessageBatch(ctx, entityID, cursor, pageSize)
		if err == nil || errors.Is(err, telegram.ErrEndOfHistory) {
			return msgs, next, err
		}

		attempt++
		decision := e.policy.Decide(err, attempt)
		switch decision.Action {
		case flood.Abort:
			return nil, cursor, err
		case flood.RetryAfter:
			e.setState(StateWaiting)
			e.logger.Warn("Fetch failed, waiting before retry",
				"entity_id", entityID,
				"attempt", attempt,
				"wait", decision.Wait,
				"error", err)
			if err := e.wait(ctx, decision.Wait); err != nil {
				return nil, cursor, err
			}
		case flood.RetryImmediately:
		}
	}
}

func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(d):
		return nil
	}
}

// buildBatch normalizes one page of raw messages and resolves their media.
// Malformed messages and failed media transfers are counted and skipped;
// storage failures abort the batch.
func (e *Engine) buildBatch(ctx context.Context, entityID int64, msgs []telegram.Message, opts Options, extractionTime string, res *Result) (*database.Batch, error) {
	batch := &database.Batch{}

	type mediaJob struct {
		msgIndex int // index into batch.Messages
		desc     telegram.MediaDescriptor
	}
	var jobs []mediaJob

	for _, raw := range msgs {
		r, err := normalize(raw, entityID, extractionTime)
		if err != nil {
			res.Skipped++
			e.logger.Warn("Skipping malformed message",
				"entity_id", entityID, "message_id", raw.ID, "error", err)
			continue
		}
		batch.Messages = append(batch.Messages, r.message)
		batch.Replies = append(batch.Replies, r.replies...)
		batch.Buttons = append(batch.Buttons, r.buttons...)
		batch.Reactions = append(batch.Reactions, r.reactions...)
		res.Processed++
		if r.message.ID > batch.Checkpoint {
			batch.Checkpoint = r.message.ID
		}

		if opts.DownloadMedia && raw.Media != nil {
			jobs = append(jobs, mediaJob{msgIndex: len(batch.Messages) - 1, desc: *raw.Media})
		}
	}

	if len(jobs) == 0 {
		return batch, nil
	}

	if e.layout != nil {
		var required int64
		for _, j := range jobs {
			required += j.desc.Size
		}
		if !e.layout.HasSpaceFor(required) {
			return nil, fmt.Errorf("%w: %d bytes required", ErrDiskFull, required)
		}
	}

	files := make([]*database.MediaFile, len(jobs))
	fetchErrs := make([]error, len(jobs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MediaWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			mf, err := e.media.Fetch(gCtx, job.desc)
			if err != nil {
				if errors.Is(err, media.ErrStorage) {
					return err // disk trouble is fatal for the pass
				}
				fetchErrs[i] = err
				return nil
			}
			files[i] = mf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("storage failure: %w", err)
	}

	for i, job := range jobs {
		msg := &batch.Messages[job.msgIndex]
		if fetchErrs[i] != nil {
			res.MediaSkipped++
			e.logger.Warn("Media skipped, archiving message without payload",
				"entity_id", entityID,
				"message_id", msg.ID,
				"error", fetchErrs[i])
			continue
		}
		mf := files[i]
		msg.MediaFileID = database.NullInt64(mf.ID)
		msg.MediaFile = database.NullString(mf.FilePath)
		msg.MediaHash = database.NullString(mf.FileHash)
		msg.FileSize = database.NullInt64(mf.FileSize)
		res.MediaDownloaded++
	}

	return batch, nil
}
