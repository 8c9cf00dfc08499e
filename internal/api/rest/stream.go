package rest

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/medlit/orchestrator/internal/core"
)

// streamJobEvents handles GET /api/jobs/{id}/events as a server-sent event
// stream. The first event is the job's current snapshot so a late
// subscriber is never behind; after that, snapshots arrive as the workers
// publish them. The stream closes itself after a terminal snapshot.
func (a *API) streamJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := a.jobs.Get(id)
	if err != nil {
		a.respondDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.respondError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	// Subscribe before sending the initial snapshot so no update published
	// in between is missed.
	events, cancel := a.broadcaster.Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial := core.SnapshotOf(job)
	if err := writeEvent(w, flusher, initial); err != nil {
		return
	}
	if initial.Status.IsTerminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, flusher, snapshot); err != nil {
				return
			}
			if snapshot.Status.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, snapshot core.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
