package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"streamscan/internal/scan"
)

type event struct {
	Type     string         `json:"type"`
	Snapshot *scan.Snapshot `json:"snapshot,omitempty"`
	Stream   *scan.Stream   `json:"stream,omitempty"`
	Progress *scan.Progress `json:"progress,omitempty"`
}

// broadcaster fans events out to SSE clients. Slow clients miss events
// rather than stalling the scan.
type broadcaster struct {
	mu      sync.Mutex
	clients map[chan event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: make(map[chan event]struct{})}
}

func (b *broadcaster) add() chan event {
	ch := make(chan event, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) remove(ch chan event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

func (b *broadcaster) send(ev event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

func writeEvent(w http.ResponseWriter, ev event) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
