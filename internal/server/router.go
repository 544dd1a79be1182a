package server

import (
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/inferloop/tabsynth/pkg/constants"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, s.requestIDMiddleware, s.loggingMiddleware, s.metricsMiddleware)

	s.setupHealthRoutes(r)
	s.setupAPIRoutes(r)
	if s.config.EnableDebug {
		s.setupDebugRoutes(r)
	}

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	return r
}

// setupHealthRoutes configures health and version endpoints
func (s *Server) setupHealthRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
}

// setupAPIRoutes configures the synthesis API
func (s *Server) setupAPIRoutes(r *mux.Router) {
	api := r.PathPrefix(constants.APIPrefix).Subrouter()

	api.HandleFunc("/generators", s.handleGenerators).Methods(http.MethodGet)
	api.HandleFunc("/synthesize", s.handleSynthesize).Methods(http.MethodPost)

	api.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/table", s.handleGetTable).Methods(http.MethodGet)
}

// setupDebugRoutes configures runtime introspection endpoints
func (s *Server) setupDebugRoutes(r *mux.Router) {
	debug := r.PathPrefix("/debug").Subrouter()
	debug.HandleFunc("/stats", s.systemStatsHandler).Methods(http.MethodGet)
	debug.HandleFunc("/routes", s.routesHandler).Methods(http.MethodGet)
}

func (s *Server) systemStatsHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]uint64{
			"alloc":       mem.Alloc,
			"total_alloc": mem.TotalAlloc,
			"sys":         mem.Sys,
			"num_gc":      uint64(mem.NumGC),
		},
		"uptime":  time.Since(s.startTime).String(),
		"version": s.buildInfo.Version,
	})
}

func (s *Server) routesHandler(w http.ResponseWriter, r *http.Request) {
	var routes []map[string]string
	s.router.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, m := range methods {
			routes = append(routes, map[string]string{"method": m, "path": path})
		}
		return nil
	})
	sort.Slice(routes, func(i, j int) bool {
		if routes[i]["path"] != routes[j]["path"] {
			return routes[i]["path"] < routes[j]["path"]
		}
		return routes[i]["method"] < routes[j]["method"]
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"routes": routes,
		"count":  len(routes),
	})
}
