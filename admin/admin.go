// Package admin implements a small read-only HTTP introspection surface
// over a *database.Database: container listing, per-container slot counts,
// and lock-contention stats. This is an operational sidecar, distinct from
// the query wire protocol named out of scope for the engine itself.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/FeatheredSystems/TytoDB/database"
)

// Server wraps a *database.Database with its HTTP handlers.
type Server struct {
	db     *database.Database
	router *mux.Router
}

// NewServer builds the admin HTTP surface over db, wiring every route
// eagerly so Router() is ready to hand to http.Server immediately.
func NewServer(db *database.Database) *Server {
	s := &Server{db: db, router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/containers", s.handleListContainers).Methods("GET")
	s.router.HandleFunc("/containers/{name}", s.handleGetContainer).Methods("GET")
	s.router.HandleFunc("/containers/{name}/locks", s.handleGetLockStats).Methods("GET")
	return s
}

// Router exposes the underlying mux.Router, for callers that want to wrap
// it with their own middleware or mount it under a prefix.
func (s *Server) Router() *mux.Router { return s.router }

type statusResponse struct {
	Containers []string `json:"containers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{Containers: s.db.ContainerNames()})
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.db.ContainerNames())
}

type containerResponse struct {
	Name        string   `json:"name"`
	ColumnNames []string `json:"column_names"`
	SlotCount   uint64   `json:"slot_count"`
}

func (s *Server) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, err := s.db.Container(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	slots, err := c.SlotCount()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, containerResponse{
		Name:        name,
		ColumnNames: c.ColumnNames(),
		SlotCount:   slots,
	})
}

type lockStatsResponse struct {
	Acquisitions    uint64 `json:"acquisitions"`
	TotalWaitMicros int64  `json:"total_wait_micros"`
	MaxWaitMicros   int64  `json:"max_wait_micros"`
}

func (s *Server) handleGetLockStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	c, err := s.db.Container(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	acquisitions, totalWait, maxWait := c.LockStats().Snapshot()
	respondJSON(w, http.StatusOK, lockStatsResponse{
		Acquisitions:    acquisitions,
		TotalWaitMicros: totalWait.Microseconds(),
		MaxWaitMicros:   maxWait.Microseconds(),
	})
}

func respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}
