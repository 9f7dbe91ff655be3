package api

import (
	"net/http"
	"strings"

	"github.com/CSSFrancis/spyde-sub000/internal/dataset"
	"github.com/CSSFrancis/spyde-sub000/internal/httputil"
	"github.com/CSSFrancis/spyde-sub000/internal/nav"
)

// Server exposes pipeline status over HTTP: the activity counters and the
// signal tree contents. It is read-only; navigation happens through the
// manager, not this surface.
type Server struct {
	m    *nav.Manager
	tree *dataset.SignalTree
}

func NewServer(m *nav.Manager, tree *dataset.SignalTree) *Server {
	return &Server{
		m:    m,
		tree: tree,
	}
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	// Handle the home page
	w.Write([]byte("Welcome to the Dataset Explorer Server!"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pipeline/stats", s.statsHandler)
	mux.HandleFunc("/api/signals", s.listSignals)
	mux.HandleFunc("/api/signals/", s.signalDetail)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.m.Stats().Snapshot())
}

// SignalInfo is the JSON shape of one signal in the listing.
type SignalInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	NavShape    []int  `json:"nav_shape"`
	SigShape    []int  `json:"sig_shape"`
	Lazy        bool   `json:"lazy"`
	CacheHits   int64  `json:"cache_hits"`
	CacheMisses int64  `json:"cache_misses"`
}

func (s *Server) listSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	infos := []SignalInfo{}
	for _, sig := range s.tree.Signals() {
		infos = append(infos, signalInfo(sig))
	}
	httputil.WriteJSONOK(w, infos)
}

// signalDetail serves /api/signals/{id}, accepting either the signal's
// registry ID or its name.
func (s *Server) signalDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/signals/")
	if id == "" || strings.Contains(id, "/") {
		httputil.BadRequest(w, "signal id required")
		return
	}
	for _, sig := range s.tree.Signals() {
		if sig.ID == id || sig.Name == id {
			httputil.WriteJSONOK(w, signalInfo(sig))
			return
		}
	}
	httputil.NotFound(w, "no signal "+id)
}

func signalInfo(sig *dataset.Signal) SignalInfo {
	hits, misses := sig.CacheStats()
	return SignalInfo{
		ID:          sig.ID,
		Name:        sig.Name,
		NavShape:    sig.NavShape(),
		SigShape:    sig.SigShape(),
		Lazy:        sig.IsLazy(),
		CacheHits:   hits,
		CacheMisses: misses,
	}
}
