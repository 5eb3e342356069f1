package realtime

import (
	"encoding/json"
	"net/http"

	"vision-sim/internal/content"
)

// ContentProvider is the slice of the content store the server reads.
type ContentProvider interface {
	News() []content.NewsItem
	Videos() []content.VideoItem
	ProfileHTML() string
}

type profileResponse struct {
	HTML string `json:"html"`
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	items := s.content.News()
	if items == nil {
		items = []content.NewsItem{}
	}
	writeJSON(w, items)
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	items := s.content.Videos()
	if items == nil {
		items = []content.VideoItem{}
	}
	writeJSON(w, items)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, profileResponse{HTML: s.content.ProfileHTML()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessionMgr.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.sessionMgr.Get(id)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, sess)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
