package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/plotweave/internal/graph"
	"github.com/starford/plotweave/internal/indexer"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "file.indexed", Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: file.indexed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) (graph, files []string) {
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "event: graph.updated") {
				graph = append(graph, s)
			} else {
				files = append(files, s)
			}
		default:
			return graph, files
		}
	}
}

func TestNotify_GraphThrottle(t *testing.T) {
	b := NewBroker(300 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First graph event is sent at once; the next two inside the interval
	// collapse into one trailing event.
	b.Notify(indexer.Event{Kind: indexer.EventFileIndexed, Path: "chapters/ch001.md", FileKind: "chapter"})
	b.Notify(indexer.Event{Kind: indexer.EventGraphUpdated, Version: 1, Commit: &graph.CommitResult{EdgesAdded: 2}})
	b.Notify(indexer.Event{Kind: indexer.EventFileIndexed, Path: "chapters/ch002.md", FileKind: "chapter"})
	b.Notify(indexer.Event{Kind: indexer.EventGraphUpdated, Version: 2, Commit: &graph.CommitResult{EdgesAdded: 3}})
	b.Notify(indexer.Event{Kind: indexer.EventGraphUpdated, Version: 3, Commit: &graph.CommitResult{EdgesAdded: 4}})

	time.Sleep(50 * time.Millisecond)
	graphs, files := drain(ch)
	if len(files) != 2 {
		t.Errorf("file events = %d, want 2", len(files))
	}
	if len(graphs) != 1 {
		t.Fatalf("graph events = %d, want 1 before the interval ends", len(graphs))
	}

	time.Sleep(400 * time.Millisecond)
	graphs, _ = drain(ch)
	if len(graphs) != 1 {
		t.Fatalf("trailing graph events = %d, want 1", len(graphs))
	}
	if !strings.Contains(graphs[0], `"version":3`) || !strings.Contains(graphs[0], `"edges_added":7`) {
		t.Errorf("trailing event = %q", graphs[0])
	}
}

func TestNotify_FileFailed(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify(indexer.Event{Kind: indexer.EventFileFailed, Path: "chapters/bad.md", Error: "chapter number not found"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: file.failed") || !strings.Contains(s, `"error":"chapter number not found"`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "file.removed", Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: file.removed") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "file.removed", Data: map[string]string{"path": "x.md"}})
	b.Notify(indexer.Event{Kind: indexer.EventFileRemoved, Path: "x.md"})
}
