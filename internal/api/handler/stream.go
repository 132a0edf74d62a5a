package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nikhilbarthwal/triagent/internal/analysis"
	"github.com/nikhilbarthwal/triagent/internal/api/response"
	"github.com/nikhilbarthwal/triagent/internal/store"
	"github.com/nikhilbarthwal/triagent/pkg/models"
)

const streamBuffer = 64

// NewStreamHandler returns an http.HandlerFunc for
// GET /api/v1/analyses/{analysisID}/stream. The handler replays the persisted
// event log from after_seq, then tails live events until a terminal event
// arrives or the client disconnects. Reconnecting clients pass the last seen
// sequence via the after_seq query parameter or the Last-Event-ID header.
func NewStreamHandler(st store.Store, broker *analysis.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := analysisIDParam(w, r)
		if !ok {
			return
		}

		rec, err := st.GetAnalysis(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "Analysis not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to load analysis", nil)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"Response writer does not support streaming", nil)
			return
		}

		afterSeq := parseAfterSeq(r)

		// Subscribe before reading the log so no event can fall between
		// replay and tail. Duplicates are filtered by sequence number.
		events, cancel := broker.Subscribe(id, streamBuffer)
		defer cancel()

		replay, err := st.ListEvents(r.Context(), id, afterSeq)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to read event log", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		lastSeq := afterSeq
		for _, ev := range replay {
			writeEvent(w, ev)
			flusher.Flush()
			lastSeq = ev.Seq
			if ev.TerminalEvent() {
				return
			}
		}

		// A terminal record whose terminal event was already consumed has
		// nothing left to tail.
		if rec.Terminal() {
			return
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				if ev.Seq <= lastSeq {
					continue
				}
				writeEvent(w, ev)
				flusher.Flush()
				lastSeq = ev.Seq
				if ev.TerminalEvent() {
					return
				}
			}
		}
	}
}

func parseAfterSeq(r *http.Request) int64 {
	raw := r.URL.Query().Get("after_seq")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	if raw == "" {
		return 0
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}

func writeEvent(w http.ResponseWriter, ev *models.AnalysisEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
}
