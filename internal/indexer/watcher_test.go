package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// startWatching runs the watcher and the queue until the test ends.
func startWatching(t *testing.T, e *env) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.ix.Run(ctx)
	go e.ix.Watch(ctx)
	time.Sleep(100 * time.Millisecond)
}

func tracked(e *env, p string) bool {
	_, ok := e.ix.Store().Snapshot().File(p)
	return ok
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	e := newEnv(t, nil)

	var mu sync.Mutex
	var events []string
	e.ix.OnChange(func(ev Event) {
		mu.Lock()
		events = append(events, string(ev.Kind)+":"+ev.Path)
		mu.Unlock()
	})
	startWatching(t, e)

	_ = os.WriteFile(filepath.Join(e.root, "chapters", "ch001.md"), []byte("# 第一章\n正文"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return tracked(e, "chapters/ch001.md")
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ev := range events {
			if ev == "file.indexed:chapters/ch001.md" {
				return true
			}
		}
		return false
	}, "expected file.indexed event")
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	e := newEnv(t, nil)
	startWatching(t, e)

	_ = os.WriteFile(filepath.Join(e.root, "chapters", ".ch001.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(e.root, "chapters", "ch001.md~"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(e.root, "chapters", "ch002.md"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return tracked(e, "chapters/ch002.md")
	}, "ch002 not indexed")
	if n := len(e.ix.Store().Snapshot().Files()); n != 1 {
		t.Errorf("tracked files = %d, want 1", n)
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	e := newEnv(t, nil)
	startWatching(t, e)

	subDir := filepath.Join(e.root, "chapters", "arc1")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "ch003.md"), []byte("# 第三章"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return tracked(e, "chapters/arc1/ch003.md")
	}, "file in new subdir not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	e := newEnv(t, map[string]string{"chapters/ch001.md": "# Delete Me"})
	if _, err := e.ix.Rebuild(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	if !tracked(e, "chapters/ch001.md") {
		t.Fatal("precondition: file should be indexed")
	}
	startWatching(t, e)

	_ = os.Remove(filepath.Join(e.root, "chapters", "ch001.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !tracked(e, "chapters/ch001.md")
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	e := newEnv(t, map[string]string{"chapters/ch001.md": "# Rename"})
	if _, err := e.ix.Rebuild(context.Background(), RebuildOptions{}); err != nil {
		t.Fatal(err)
	}
	startWatching(t, e)

	_ = os.Rename(filepath.Join(e.root, "chapters", "ch001.md"), filepath.Join(e.root, "chapters", "chapter-1.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !tracked(e, "chapters/ch001.md") && tracked(e, "chapters/chapter-1.md")
	}, "rename reconciliation failed: old path should be removed and new path indexed")

	if c, ok := e.ix.Store().Snapshot().ChapterByNumber(1); !ok || c.Properties.String("path") != "chapters/chapter-1.md" {
		t.Errorf("chapter 1 = %+v", c)
	}
}
