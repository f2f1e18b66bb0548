package indexer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/extract"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/models"
)

// RebuildOptions controls a full pass over the project.
type RebuildOptions struct {
	// Force re-extracts files whose version is unchanged.
	Force bool
	// Clean drops every file's facts and prunes all nodes first.
	Clean bool
}

// FileError is one file that could not be indexed.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Scanned       int           `json:"scanned"`
	Indexed       int           `json:"indexed"`
	Unchanged     int           `json:"unchanged"`
	Removed       int           `json:"removed"`
	Failed        []FileError   `json:"failed,omitempty"`
	NodesCreated  int           `json:"nodes_created"`
	EdgesAdded    int           `json:"edges_added"`
	EdgesRemoved  int           `json:"edges_removed"`
	OrphansPruned int           `json:"orphans_pruned"`
	Duration      time.Duration `json:"duration_ns"`
}

func (s *RebuildStats) add(res *graph.CommitResult) {
	if res == nil {
		return
	}
	s.NodesCreated += res.NodesCreated
	s.EdgesAdded += res.EdgesAdded
	s.EdgesRemoved += res.EdgesRemoved
	s.OrphansPruned += res.NodesPruned
}

// Rebuild brings the whole project up to date. Settings files are read
// first to build the dictionary and files gone from disk are retracted,
// then settings and chapters are extracted
// in parallel and committed one by one in path order. A file that fails
// extraction is reported in the stats and never blocks the others. The
// returned error is reserved for I/O failures and cancellation.
func (i *Indexer) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildStats, error) {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()
	start := time.Now()
	stats := &RebuildStats{}

	if opts.Clean {
		if err := i.clean(ctx, stats); err != nil {
			return nil, err
		}
	}

	settings, err := i.files.List(i.cfg.SettingsDir)
	if err != nil {
		return nil, apperr.IO("indexer: list settings", err)
	}
	chapters, err := i.files.List(i.cfg.ChaptersDir)
	if err != nil {
		return nil, apperr.IO("indexer: list chapters", err)
	}
	// With an empty chapters dir the listing covers settings too.
	chapters = filterKind(i, chapters, graph.KindChapter)
	settings = filterKind(i, settings, graph.KindSetting)
	stats.Scanned = len(settings) + len(chapters)

	// Dictionary from every settings file currently on disk.
	for _, sf := range settings {
		data, err := i.files.Read(sf.Path)
		if err != nil {
			continue
		}
		ents, err := extract.Entities(sf.Path, data)
		if err != nil {
			continue
		}
		i.setEntities(sf.Path, ents)
	}
	i.mu.Lock()
	for p := range i.settings {
		if !containsPath(settings, p) {
			delete(i.settings, p)
		}
	}
	i.dict = i.buildDictionary()
	i.mu.Unlock()

	// Vanished files go first so a renamed chapter does not collide with
	// its old path's chapter number.
	onDisk := make(map[string]bool, stats.Scanned)
	for _, f := range settings {
		onDisk[f.Path] = true
	}
	for _, f := range chapters {
		onDisk[f.Path] = true
	}
	for _, rec := range i.store.Snapshot().Files() {
		if onDisk[rec.Path] {
			continue
		}
		if err := i.RemoveFile(ctx, rec.Path); err != nil {
			return nil, err
		}
		stats.Removed++
	}

	if err := i.pass(ctx, settings, graph.KindSetting, opts.Force, stats); err != nil {
		return nil, err
	}
	if err := i.pass(ctx, chapters, graph.KindChapter, opts.Force, stats); err != nil {
		return nil, err
	}

	pruned, err := i.PruneOrphans(ctx)
	if err != nil {
		return nil, err
	}
	stats.OrphansPruned += pruned
	stats.Duration = time.Since(start)

	i.logger.Info("indexer: rebuild complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", len(stats.Failed)),
		slog.Duration("duration", stats.Duration))
	return stats, nil
}

// pass extracts files in parallel and commits them serially in order.
// Each file holds its queue slot from read to commit, so a queue worker
// never interleaves an older or newer version of the same file.
func (i *Indexer) pass(ctx context.Context, files []models.SourceFile, kind string, force bool, stats *RebuildStats) error {
	dict := i.Dictionary()
	jobs := make([]*job, len(files))
	errs := make([]error, len(files))
	held := make([]bool, len(files))
	defer func() {
		for n, h := range held {
			if h {
				i.queue.done(files[n].Path)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.Workers)
	for n, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			i.queue.acquire(f.Path)
			held[n] = true
			jobs[n], errs[n] = i.prepare(f.Path, kind, dict, force)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for n, j := range jobs {
		p := files[n].Path
		if err := i.settle(ctx, p, kind, j, errs[n], stats); err != nil {
			return err
		}
		held[n] = false
		i.queue.done(p)
	}
	return nil
}

// settle commits one prepared file and records the outcome in stats.
func (i *Indexer) settle(ctx context.Context, p, kind string, j *job, prepErr error, stats *RebuildStats) error {
	if prepErr != nil {
		stats.Failed = append(stats.Failed, FileError{Path: p, Error: i.fail(ctx, p, kind, prepErr).Error()})
		return nil
	}
	if j.unchanged {
		i.setState(p, kind, models.StateIndexed, j.version, nil)
		stats.Unchanged++
		return nil
	}
	res, err := i.commit(ctx, j)
	if err != nil {
		if errors.Is(err, apperr.ErrExtraction) {
			stats.Failed = append(stats.Failed, FileError{Path: p, Error: i.fail(ctx, p, kind, err).Error()})
			return nil
		}
		return err
	}
	i.indexed(j, res)
	stats.Indexed++
	stats.add(res)
	return nil
}

// clean retracts every tracked file and prunes the resulting orphans in one
// commit, leaving an empty graph.
func (i *Indexer) clean(ctx context.Context, stats *RebuildStats) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	tx := i.store.Begin()
	for _, rec := range i.store.Snapshot().Files() {
		tx.RemoveFile(rec.Path)
	}
	tx.PruneOrphans()
	res, err := tx.Commit(ctx)
	if err != nil {
		return err
	}
	stats.EdgesRemoved += res.EdgesRemoved
	stats.OrphansPruned += res.NodesPruned
	i.mu.Lock()
	for _, s := range i.states {
		s.State = models.StateUnseen
		s.Version = ""
	}
	i.mu.Unlock()
	return nil
}

func filterKind(i *Indexer, files []models.SourceFile, kind string) []models.SourceFile {
	out := files[:0]
	for _, f := range files {
		if i.KindOf(f.Path) == kind {
			out = append(out, f)
		}
	}
	return out
}

func containsPath(files []models.SourceFile, p string) bool {
	for _, f := range files {
		if f.Path == p {
			return true
		}
	}
	return false
}
