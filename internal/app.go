package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/plotweave/internal/apperr"
	"github.com/starford/plotweave/internal/extract"
	"github.com/starford/plotweave/internal/foreshadow"
	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/index"
	"github.com/starford/plotweave/internal/indexer"
	"github.com/starford/plotweave/internal/network"
	"github.com/starford/plotweave/internal/retrieve"
	"github.com/starford/plotweave/internal/service"
	"github.com/starford/plotweave/internal/storage"
)

// App is a fully wired plotweave instance over one project.
type App struct {
	Config  *Config
	Logger  *slog.Logger
	Files   *storage.FS
	DB      *index.DB
	Store   *graph.Store
	Indexer *indexer.Indexer
	Service *service.Service
}

// Open restores the persisted graph for cfg's project and wires the query
// engines over it. A persisted index that cannot be read back is fatal.
// The caller reconciles with the files on disk via Service.Rebuild.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	root := cfg.Project.Root
	for _, dir := range []string{root, filepath.Join(root, cfg.Project.ChaptersDir), filepath.Join(root, cfg.Project.SettingsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create project dir: %w", err)
		}
	}
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}

	files, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	state, err := db.Load(ctx)
	if err != nil {
		db.Close()
		if errors.Is(err, apperr.ErrCorruptIndex) {
			return nil, fmt.Errorf("persisted index at %s is unreadable; delete it or run rebuild --clean: %w", cfg.SQLite.Path, err)
		}
		return nil, fmt.Errorf("load index: %w", err)
	}
	store, err := graph.NewStore(db, state)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("restore graph: %w", err)
	}

	x, err := extract.New(cfg.Extract.Extractor())
	if err != nil {
		db.Close()
		return nil, err
	}
	ix := indexer.New(cfg.IndexerOptions(), files, store, x, logger)

	r, err := retrieve.New(cfg.Retrieval, store, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	nb, err := network.New(cfg.Network, store)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Index loaded",
		slog.String("project_root", files.Root()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Uint64("graph_version", state.Version))

	return &App{
		Config:  cfg,
		Logger:  logger,
		Files:   files,
		DB:      db,
		Store:   store,
		Indexer: ix,
		Service: service.New(ix, r, nb, foreshadow.New(store)),
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Reconcile brings the graph up to date with the project files, logging
// files that failed extraction.
func (a *App) Reconcile(ctx context.Context, opts indexer.RebuildOptions) (*indexer.RebuildStats, error) {
	st, err := a.Service.Rebuild(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, f := range st.Failed {
		a.Logger.Warn("file not indexed", slog.String("path", f.Path), slog.String("error", f.Error))
	}
	return st, nil
}
