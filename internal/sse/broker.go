// Package sse implements a Server-Sent Events broker for index change
// notifications.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/plotweave/internal/indexer"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type fileEventData struct {
	Path     string `json:"path"`
	FileKind string `json:"file_kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

type graphEventData struct {
	Version      uint64 `json:"version"`
	NodesCreated int    `json:"nodes_created"`
	EdgesAdded   int    `json:"edges_added"`
	EdgesRemoved int    `json:"edges_removed"`
	NodesPruned  int    `json:"nodes_pruned"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, graph throttle timestamp and the pending graph update). Public
// methods communicate with this loop through channels, so no mutexes are
// required.
type Broker struct {
	graphMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	indexCh       chan indexer.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given graph throttle interval.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		indexCh:       make(chan indexer.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastGraph time.Time
		pending   *graphEventData
		trailing  *time.Timer
		trailingC <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	// graphUpdated emits at most one graph.updated per interval; updates
	// inside the interval collapse into one trailing event.
	graphUpdated := func(d graphEventData) {
		now := time.Now()
		if wait := b.graphMin - now.Sub(lastGraph); wait > 0 {
			if pending != nil {
				d = accumulate(*pending, d)
			}
			pending = &d
			if trailingC == nil {
				trailing = time.NewTimer(wait)
				trailingC = trailing.C
			}
			return
		}
		lastGraph = now
		broadcast(Event{Type: string(indexer.EventGraphUpdated), Data: d})
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case ev := <-b.indexCh:
			switch ev.Kind {
			case indexer.EventGraphUpdated:
				d := graphEventData{Version: ev.Version}
				if c := ev.Commit; c != nil {
					d.NodesCreated, d.EdgesAdded, d.EdgesRemoved, d.NodesPruned = c.NodesCreated, c.EdgesAdded, c.EdgesRemoved, c.NodesPruned
				}
				graphUpdated(d)
			default:
				broadcast(Event{Type: string(ev.Kind), Data: fileEventData{Path: ev.Path, FileKind: ev.FileKind, Error: ev.Error}})
			}

		case <-trailingC:
			trailingC = nil
			if pending != nil {
				lastGraph = time.Now()
				broadcast(Event{Type: string(indexer.EventGraphUpdated), Data: *pending})
				pending = nil
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func accumulate(prev, next graphEventData) graphEventData {
	next.NodesCreated += prev.NodesCreated
	next.EdgesAdded += prev.EdgesAdded
	next.EdgesRemoved += prev.EdgesRemoved
	next.NodesPruned += prev.NodesPruned
	return next
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Notify forwards an indexer event. File events are broadcast as they
// come; graph.updated is throttled. It has the shape of an
// indexer.OnChange hook.
func (b *Broker) Notify(ev indexer.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.indexCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
