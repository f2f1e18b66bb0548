// Package indexer keeps the graph and the text index in step with the
// project's chapter and settings files. It is the only writer of the graph.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/checksum"
	"github.com/starford/plotweave/internal/extract"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/models"
	"github.com/starford/plotweave/internal/storage"
)

// Config holds the indexer settings.
type Config struct {
	ChaptersDir    string
	SettingsDir    string
	Workers        int
	ReconcileDelay time.Duration
	// Characters and Locations seed the dictionary before settings files.
	Characters []string
	Locations  []string
}

// Indexer ingests source files into a graph.Store.
type Indexer struct {
	cfg    Config
	files  storage.Provider
	store  *graph.Store
	x      *extract.Extractor
	logger *slog.Logger
	queue  *queue

	// writeMu serializes staging and commit so duplicate-chapter checks see
	// the snapshot they commit against.
	writeMu sync.Mutex
	// rebuildMu keeps rebuilds from holding queue slots against each other.
	rebuildMu sync.Mutex

	mu       sync.Mutex
	states   map[string]*models.FileStatus
	settings map[string][]extract.Entity
	dict     *extract.Dictionary
	hooks    []func(Event)
}

// New creates an Indexer. Files already recorded in the store's snapshot
// start out Indexed.
func New(cfg Config, files storage.Provider, store *graph.Store, x *extract.Extractor, logger *slog.Logger) *Indexer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ReconcileDelay <= 0 {
		cfg.ReconcileDelay = 200 * time.Millisecond
	}
	cfg.ChaptersDir = cleanDir(cfg.ChaptersDir)
	cfg.SettingsDir = cleanDir(cfg.SettingsDir)
	if logger == nil {
		logger = slog.Default()
	}
	i := &Indexer{
		cfg:      cfg,
		files:    files,
		store:    store,
		x:        x,
		logger:   logger,
		queue:    newQueue(),
		states:   make(map[string]*models.FileStatus),
		settings: make(map[string][]extract.Entity),
	}
	for _, rec := range store.Snapshot().Files() {
		i.states[rec.Path] = &models.FileStatus{Path: rec.Path, Kind: rec.Kind, State: models.StateIndexed, Version: rec.Version}
	}
	i.dict = i.buildDictionary()
	return i
}

func cleanDir(d string) string {
	return strings.Trim(path.Clean("/"+strings.ReplaceAll(d, "\\", "/")), "/")
}

// Store returns the graph store the indexer writes to.
func (i *Indexer) Store() *graph.Store { return i.store }

// OnChange registers fn to be called after every index change.
func (i *Indexer) OnChange(fn func(Event)) {
	i.mu.Lock()
	i.hooks = append(i.hooks, fn)
	i.mu.Unlock()
}

func (i *Indexer) emit(ev Event) {
	i.mu.Lock()
	hooks := slices.Clone(i.hooks)
	i.mu.Unlock()
	for _, fn := range hooks {
		fn(ev)
	}
}

// KindOf classifies a project path as a chapter or settings file; "" means
// the indexer does not track it.
func (i *Indexer) KindOf(p string) string {
	if !storage.IsSource(p) {
		return ""
	}
	inDir := func(dir string) bool { return dir != "" && strings.HasPrefix(p, dir+"/") }
	switch {
	case inDir(i.cfg.SettingsDir):
		return graph.KindSetting
	case inDir(i.cfg.ChaptersDir), i.cfg.ChaptersDir == "":
		return graph.KindChapter
	}
	return ""
}

func (i *Indexer) buildDictionary() *extract.Dictionary {
	ents := extract.FromNames(graph.Character, i.cfg.Characters)
	ents = append(ents, extract.FromNames(graph.Location, i.cfg.Locations)...)
	paths := make([]string, 0, len(i.settings))
	for p := range i.settings {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		ents = append(ents, i.settings[p]...)
	}
	return extract.NewDictionary(ents...)
}

// Dictionary returns the current name dictionary.
func (i *Indexer) Dictionary() *extract.Dictionary {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dict
}

// setEntities replaces the entities contributed by a settings file and
// reports whether the dictionary fingerprint changed.
func (i *Indexer) setEntities(p string, ents []extract.Entity) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if ents == nil {
		delete(i.settings, p)
	} else {
		i.settings[p] = ents
	}
	before := i.dict.Fingerprint()
	i.dict = i.buildDictionary()
	return before != i.dict.Fingerprint()
}

func (i *Indexer) setState(p, kind string, st models.FileState, version string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.states[p]
	if !ok {
		s = &models.FileStatus{Path: p, Kind: kind}
		i.states[p] = s
	}
	s.Kind = kind
	s.State = st
	if version != "" {
		s.Version = version
	}
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = time.Now()
}

// Status returns the tracked state of p.
func (i *Indexer) Status(p string) (models.FileStatus, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.states[p]
	if !ok {
		return models.FileStatus{Path: p, State: models.StateUnseen}, false
	}
	return *s, true
}

// version derives the origin version of a file. Chapter versions include
// the dictionary fingerprint so a dictionary change re-extracts them.
func version(kind string, data []byte, dict *extract.Dictionary) string {
	sum := checksum.Sum(data)
	if kind == graph.KindChapter {
		return checksum.Strings(sum, dict.Fingerprint())
	}
	return sum
}

// job is a file read and extracted, ready to commit.
type job struct {
	path    string
	kind    string
	version string
	facts   *extract.Facts
	// unchanged jobs carry no facts.
	unchanged bool
}

// prepare reads and extracts p outside the write lock.
func (i *Indexer) prepare(p, kind string, dict *extract.Dictionary, force bool) (*job, error) {
	data, err := i.files.Read(p)
	if err != nil {
		return nil, err
	}
	j := &job{path: p, kind: kind, version: version(kind, data, dict)}
	if rec, ok := i.store.Snapshot().File(p); ok && rec.Version == j.version && !force {
		j.unchanged = true
		return j, nil
	}
	i.setState(p, kind, models.StateStale, "", nil)
	var facts *extract.Facts
	if kind == graph.KindSetting {
		facts, err = i.x.Setting(p, data, dict)
	} else {
		facts, err = i.x.Chapter(p, data, dict)
	}
	if err != nil {
		return nil, apperr.Extraction(p, err)
	}
	j.facts = facts
	return j, nil
}

// commit stages a job's facts, replacing everything the file contributed
// before.
func (i *Indexer) commit(ctx context.Context, j *job) (*graph.CommitResult, error) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	snap := i.store.Snapshot()
	f := j.facts
	if j.kind == graph.KindChapter {
		if other, ok := snap.ChapterByNumber(f.Number); ok {
			op := other.Properties.String("path")
			if _, tracked := snap.File(op); op != j.path && tracked {
				return nil, apperr.Extraction(j.path, fmt.Errorf("chapter number %d already used by %s", f.Number, op))
			}
		}
	}

	tx := i.store.Begin()
	tx.RetractEdgesFromFile(j.path)
	ids := make(map[extract.Ref]string, len(f.Nodes))
	for _, n := range f.Nodes {
		id, err := tx.UpsertNode(n.Label, n.Name, n.Properties)
		if err != nil {
			return nil, apperr.Extraction(j.path, err)
		}
		ids[n.Ref] = id
		if n.Declared {
			tx.Anchor(id, j.path)
		}
	}
	for _, e := range f.Edges {
		if err := tx.UpsertEdge(ids[e.From], e.Predicate, ids[e.To], e.Properties, j.path, j.version); err != nil {
			return nil, apperr.Extraction(j.path, err)
		}
	}
	tx.PutFile(graph.FileRecord{Path: j.path, Kind: j.kind, Version: j.version, Title: f.Title}, f.Body)
	return tx.Commit(ctx)
}

// IngestFile brings one file up to date. A file missing from disk is
// removed. Unchanged content is a no-op. On extraction failure the file
// stays Stale and its previous facts remain in force.
func (i *Indexer) IngestFile(ctx context.Context, p string) error {
	kind := i.KindOf(p)
	if kind == "" {
		return fmt.Errorf("indexer: %s is not a chapter or settings file", p)
	}
	dict := i.Dictionary()
	j, err := i.prepare(p, kind, dict, false)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return i.RemoveFile(ctx, p)
	case err != nil:
		return i.fail(ctx, p, kind, err)
	}
	if j.unchanged {
		i.setState(p, kind, models.StateIndexed, j.version, nil)
		return nil
	}
	res, err := i.commit(ctx, j)
	if err != nil {
		return i.fail(ctx, p, kind, err)
	}
	i.indexed(j, res)
	if kind == graph.KindSetting && i.setEntities(p, j.facts.Entities) {
		i.requeueChapters()
	}
	return nil
}

func (i *Indexer) fail(ctx context.Context, p, kind string, err error) error {
	if !errors.Is(err, apperr.ErrExtraction) && !errors.Is(err, apperr.ErrIO) && ctx.Err() == nil {
		err = apperr.IO("indexer: ingest "+p, err)
	}
	i.setState(p, kind, models.StateStale, "", err)
	i.logger.Warn("indexer: ingest failed", slog.String("path", p), slog.String("error", err.Error()))
	i.emit(Event{Kind: EventFileFailed, Path: p, FileKind: kind, Error: err.Error()})
	return err
}

func (i *Indexer) indexed(j *job, res *graph.CommitResult) {
	i.setState(j.path, j.kind, models.StateIndexed, j.version, nil)
	i.logger.Debug("indexer: indexed",
		slog.String("path", j.path),
		slog.Int("edges_added", res.EdgesAdded),
		slog.Int("edges_removed", res.EdgesRemoved))
	i.emit(Event{Kind: EventFileIndexed, Path: j.path, FileKind: j.kind, Version: res.Version, Commit: res})
	if res.EdgesAdded+res.EdgesRemoved+res.NodesCreated+res.NodesPruned > 0 {
		i.emit(Event{Kind: EventGraphUpdated, Version: res.Version, Commit: res})
	}
}

// RemoveFile retracts everything the file contributed. Nodes it declared
// lose their anchor and are pruned once nothing else references them.
func (i *Indexer) RemoveFile(ctx context.Context, p string) error {
	kind := i.KindOf(p)
	i.writeMu.Lock()
	tx := i.store.Begin()
	tx.RemoveFile(p)
	res, err := tx.Commit(ctx)
	i.writeMu.Unlock()
	if err != nil {
		i.setState(p, kind, models.StateStale, "", err)
		return err
	}
	i.setState(p, kind, models.StateRemoved, "", nil)
	i.logger.Debug("indexer: removed", slog.String("path", p))
	i.emit(Event{Kind: EventFileRemoved, Path: p, FileKind: kind, Version: res.Version, Commit: res})
	if res.EdgesRemoved > 0 {
		i.emit(Event{Kind: EventGraphUpdated, Version: res.Version, Commit: res})
	}
	if kind == graph.KindSetting && i.setEntities(p, nil) {
		i.requeueChapters()
	}
	return nil
}

// PruneOrphans deletes nodes with no edges and no declaring file.
func (i *Indexer) PruneOrphans(ctx context.Context) (int, error) {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	return i.store.PruneOrphans(ctx)
}

// requeueChapters schedules every tracked chapter after a dictionary
// change; their versions no longer match so each is re-extracted.
func (i *Indexer) requeueChapters() {
	for _, rec := range i.store.Snapshot().Files() {
		if rec.Kind == graph.KindChapter {
			i.queue.push(rec.Path)
		}
	}
	i.logger.Info("indexer: dictionary changed, chapters requeued")
}

// Stats summarizes file states and graph counts.
type Stats struct {
	Graph    graph.Stats              `json:"graph"`
	Files    []models.FileStatus      `json:"files"`
	ByState  map[models.FileState]int `json:"by_state"`
	Entities int                      `json:"dictionary_entities"`
	Pending  int                      `json:"pending"`
}

// Stats reports the current indexer and graph state.
func (i *Indexer) Stats() Stats {
	i.mu.Lock()
	files := make([]models.FileStatus, 0, len(i.states))
	by := make(map[models.FileState]int)
	for _, s := range i.states {
		files = append(files, *s)
		by[s.State]++
	}
	entities := i.dict.Len()
	i.mu.Unlock()
	slices.SortFunc(files, func(a, b models.FileStatus) int { return strings.Compare(a.Path, b.Path) })
	return Stats{
		Graph:    i.store.Snapshot().Stats(),
		Files:    files,
		ByState:  by,
		Entities: entities,
		Pending:  i.queue.len(),
	}
}
