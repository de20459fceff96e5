package console

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"riffle/internal/allocator"
	"riffle/internal/feed"
	"riffle/internal/fetch"
	"riffle/internal/merge"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Status is the JSON shape of GET /status.
type Status struct {
	Allocator allocator.MetricsSnapshot `json:"allocator"`
	Fetch     fetch.MetricsSnapshot     `json:"fetch"`
	Staging   StagingStatus             `json:"staging"`
	Feed      FeedStatus                `json:"feed"`
}

type StagingStatus struct {
	MemoryQueued int `json:"memoryQueued"`
	DiskChunks   int `json:"diskChunks"`
}

type FeedStatus struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// Console exposes the running pipeline for inspection and control.
type Console struct {
	alloc   *allocator.Manager
	coord   *fetch.Coordinator
	staging *merge.Staging
	hub     *feed.Hub
	log     *zap.Logger
}

func New(alloc *allocator.Manager, coord *fetch.Coordinator, staging *merge.Staging, hub *feed.Hub, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{alloc: alloc, coord: coord, staging: staging, hub: hub, log: log}
}

// Handler routes the console endpoints.
func (c *Console) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", c.handleStatus)
	mux.HandleFunc("GET /events", c.handleEvents)
	mux.HandleFunc("POST /announce", c.handleAnnounce)
	return mux
}

func (c *Console) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{
		Allocator: c.alloc.Metrics(),
		Fetch:     c.coord.Metrics(),
		Staging: StagingStatus{
			MemoryQueued: c.staging.MemoryLen(),
			DiskChunks:   c.staging.DiskLen(),
		},
		Feed: FeedStatus{
			Subscribers: c.hub.Subscribers(),
			Dropped:     c.hub.Dropped(),
		},
	}
	writeJSON(w, http.StatusOK, status)
}

func (c *Console) handleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req fetch.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := c.coord.Announce(req); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, fetch.ErrBusy) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (c *Console) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, events := c.hub.Subscribe()
	defer c.hub.Unsubscribe(id)

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// The read loop only services control frames; any error ends the
	// subscription.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			close(done)
			<-writerDone
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
