package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vbonduro/travelbingo/internal/batch"
	"github.com/vbonduro/travelbingo/internal/service"
)

type startEvent struct {
	Total int `json:"total"`
}

type progressEvent struct {
	Percent  int    `json:"percent"`
	Key      string `json:"key"`
	OK       bool   `json:"ok"`
	Attempts int    `json:"attempts"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	Error    string `json:"error,omitempty"`
}

type doneEvent struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled"`
}

type adminFlow func(ctx context.Context, cityID string) (<-chan batch.Event, error)

func (s *Server) handleFixMissingImages(w http.ResponseWriter, r *http.Request) {
	s.streamFlow(w, r, service.FlowFixMissingImages, s.service.FixMissingImages)
}

func (s *Server) handleGenerateAllImages(w http.ResponseWriter, r *http.Request) {
	s.streamFlow(w, r, service.FlowGenerateImages, s.service.GenerateAllImages)
}

func (s *Server) handleGenerateAllDescriptions(w http.ResponseWriter, r *http.Request) {
	s.streamFlow(w, r, service.FlowGenerateAllDescriptions, s.service.GenerateAllDescriptions)
}

// streamFlow runs an admin flow and relays its events as server-sent events:
// "start", one "progress" per item, then "done" with the tally. A client
// disconnect cancels the remaining items.
func (s *Server) streamFlow(w http.ResponseWriter, r *http.Request, name string, flow adminFlow) {
	cityID := r.PathValue("city")

	events, err := flow(r.Context(), cityID)
	if err != nil {
		s.writeError(w, err, "failed to start "+name, "city_id", cityID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	writeFailed := false
	for ev := range events {
		// Keep draining after a write failure so the run can finish.
		if writeFailed {
			continue
		}

		var err error
		switch ev.Kind {
		case batch.EventStarted:
			err = writeEvent(w, "start", startEvent{Total: ev.Total})
		case batch.EventProgress:
			p := progressEvent{
				Percent:  ev.Percent,
				Key:      ev.Key,
				OK:       ev.Err == nil,
				Attempts: ev.Attempts,
				Done:     ev.Done,
				Total:    ev.Total,
			}
			if ev.Err != nil {
				p.Error = ev.Err.Error()
			}
			err = writeEvent(w, "progress", p)
		case batch.EventCompleted:
			err = writeEvent(w, "done", doneEvent{
				Total:     ev.Summary.Total,
				Succeeded: ev.Summary.Succeeded,
				Failed:    ev.Summary.Failed,
				Cancelled: ev.Summary.Cancelled,
			})
		}
		if err != nil {
			s.logger.Warn("admin stream write failed", "flow", name, "city_id", cityID, "error", err)
			writeFailed = true
			continue
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
