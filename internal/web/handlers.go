package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evalert/internal/ics"
	"evalert/internal/model"
	"evalert/internal/service"
)

const (
	indexText       = "Event alert service is running!"
	defaultUploadID = "upload"
)

type eventDTO struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	EventDate string    `json:"event_date,omitempty"`
	EventTime string    `json:"event_time,omitempty"`
	StartTime string    `json:"start_time,omitempty"`
	EndTime   string    `json:"end_time,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Source    string    `json:"source"`

	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
}

type conflictDTO struct {
	Event1 eventDTO `json:"event1"`
	Event2 eventDTO `json:"event2"`
}

type rejectedDTO struct {
	Index int    `json:"index"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

type importResponse struct {
	Accepted   []eventDTO    `json:"accepted"`
	Duplicates int           `json:"duplicates,omitempty"`
	Rejected   []rejectedDTO `json:"rejected"`
}

func (s *Server) toDTO(ev model.Event) eventDTO {
	loc := s.svc.Location()
	return eventDTO{
		ID:        ev.ID,
		OwnerID:   ev.Owner,
		Title:     ev.Title,
		EventDate: ev.Temporal.Date,
		EventTime: ev.Temporal.Time,
		StartTime: ev.Temporal.StartTime,
		EndTime:   ev.Temporal.EndTime,
		Start:     ev.Interval.Start.In(loc),
		End:       ev.Interval.End.In(loc),
		Source:    ev.Source,

		Description: ev.Description,
		Location:    ev.Location,
	}
}

func (s *Server) toDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, s.toDTO(ev))
	}
	return out
}

func (s *Server) toImportResponse(res service.ImportResult) importResponse {
	rejected := make([]rejectedDTO, 0, len(res.Rejected))
	for _, re := range res.Rejected {
		rejected = append(rejected, rejectedDTO{Index: re.Index, Error: re.Err.Error(), Code: service.Code(re.Err)})
	}
	return importResponse{
		Accepted:   s.toDTOs(res.Accepted),
		Duplicates: res.Duplicates,
		Rejected:   rejected,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(indexText))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// POST /add_event
func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var rec model.Record
	if !decodeJSON(w, r, &rec) {
		return
	}
	ev, err := s.svc.SubmitEvent(r.Context(), rec)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"event":   s.toDTO(ev),
	})
}

// POST /check_upcoming_events {"owner_id": "...", "now": "2024-01-01T10:00"?}
func (s *Server) handleCheckUpcoming(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var rec model.Record
	if !decodeJSON(w, r, &rec) {
		return
	}

	now := s.svc.Now()
	if raw, ok := rec["now"].(string); ok && strings.TrimSpace(raw) != "" {
		t, err := model.ParseInstant(raw, s.svc.Location())
		if err != nil {
			writeServiceError(w, fmt.Errorf("%w: now %q", model.ErrMalformedTemporalData, raw))
			return
		}
		now = t
	}

	found, err := s.svc.FindUpcoming(r.Context(), model.OwnerOf(rec), now)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"upcoming_events": s.toDTOs(found),
	})
}

// POST /check_conflicts {"owner_id": "..."}
func (s *Server) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var rec model.Record
	if !decodeJSON(w, r, &rec) {
		return
	}
	pairs, err := s.svc.FindConflicts(r.Context(), model.OwnerOf(rec))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]conflictDTO, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, conflictDTO{Event1: s.toDTO(p.First), Event2: s.toDTO(p.Second)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"conflicts": out,
	})
}

// GET /api/events?owner_id=
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	events, err := s.svc.ListEvents(r.Context(), ownerParam(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.toDTOs(events)})
}

// POST /api/events/batch {"events": [record, ...]}
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Events []model.Record `json:"events"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.svc.ImportRecords(r.Context(), req.Events)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toImportResponse(res))
}

// POST /api/calendar/import?owner_id=&source= with an iCalendar body.
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxICSBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "could not read calendar body")
		return
	}
	sourceID := strings.TrimSpace(r.URL.Query().Get("source"))
	if sourceID == "" {
		sourceID = defaultUploadID
	}
	res, err := s.svc.ImportICS(r.Context(), ics.Source{ID: sourceID, Owner: ownerParam(r)}, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toImportResponse(res))
}

// GET /api/calendar.ics?owner_id=
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	doc, err := s.svc.ExportICS(r.Context(), ownerParam(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	_, _ = io.WriteString(w, doc)
}

// ownerParam reads owner_id, falling back to user_id.
func ownerParam(r *http.Request) string {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get(model.FieldOwnerID)); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get(model.FieldUserID))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body"
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			msg = "request body too large"
		}
		writeError(w, http.StatusBadRequest, codeInvalidBody, msg)
		return false
	}
	return true
}
