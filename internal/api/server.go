// Package api serves the pipeline status endpoints: live track state per
// camera, the latest fused tick, aggregate stats, and recorded violation
// events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/pipeline"
	"github.com/sitewatch-data/compliance.report/internal/ppe/tracks"
)

// PipelineStatus is the read surface the server needs from the running
// orchestrator.
type PipelineStatus interface {
	LatestTick() *pipeline.TickResult
	TrackSnapshots() map[ppe.CameraID][]tracks.Track
}

// EventLister reads recorded violation events, newest first, and counts
// events recorded since a cutoff.
type EventLister interface {
	RecentViolations(limit int) ([]pipeline.ViolationEvent, error)
	CountSince(since time.Time) (int, error)
}

// Server exposes pipeline state over HTTP. All endpoints are read-only.
type Server struct {
	status PipelineStatus
	events EventLister
}

// NewServer builds a status server. events may be nil when no store is
// configured; /api/events then reports 404.
func NewServer(status PipelineStatus, events EventLister) *Server {
	return &Server{
		status: status,
		events: events,
	}
}

// ServeMux returns the route table for the status server.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/fused", s.showFusedTick)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("PPE compliance monitor\n"))
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// trackView is the wire shape for one live track.
type trackView struct {
	TrackID   int64      `json:"track_id"`
	Camera    int        `json:"camera"`
	State     string     `json:"state"`
	Hits      int        `json:"hits"`
	Misses    int        `json:"misses"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	Box       [4]float64 `json:"box"` // x1, y1, x2, y2
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snapshots := s.status.TrackSnapshots()
	response := make(map[string][]trackView, len(snapshots))
	for camera, camTracks := range snapshots {
		views := make([]trackView, 0, len(camTracks))
		for i := range camTracks {
			t := &camTracks[i]
			views = append(views, trackView{
				TrackID:   t.ID,
				Camera:    int(t.Camera),
				State:     string(t.State),
				Hits:      t.Hits,
				Misses:    t.Misses,
				FirstSeen: t.FirstSeen,
				LastSeen:  t.LastSeen,
				Box:       [4]float64{t.Box.X1, t.Box.Y1, t.Box.X2, t.Box.Y2},
			})
		}
		response[strconv.Itoa(int(camera))] = views
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write tracks")
		return
	}
}

func (s *Server) showFusedTick(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	tick := s.status.LatestTick()
	if tick == nil {
		s.writeJSONError(w, http.StatusNotFound, "No fused tick yet")
		return
	}

	if err := json.NewEncoder(w).Encode(tick); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write fused tick")
		return
	}
}

// statsView is the /api/stats wire shape: the latest tick's aggregates plus
// the recorded event count over the trailing hour when a store is configured.
type statsView struct {
	pipeline.Stats
	EventsLastHour *int `json:"events_last_hour,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// No tick yet still answers with an empty stats block so dashboards
	// can poll from startup.
	view := statsView{Stats: pipeline.Stats{ComplianceRate: 100}}
	if tick := s.status.LatestTick(); tick != nil {
		view.Stats = tick.Stats
	}
	if s.events != nil {
		count, err := s.events.CountSince(time.Now().Add(-time.Hour))
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to count events: %v", err))
			return
		}
		view.EventsLastHour = &count
	}

	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write stats")
		return
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.events == nil {
		s.writeJSONError(w, http.StatusNotFound, "No event store configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events, err := s.events.RecentViolations(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []pipeline.ViolationEvent{}
	}

	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}
