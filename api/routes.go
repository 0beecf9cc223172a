package api

import (
	"github.com/gorilla/mux"

	"github.com/garnizeh/placement/internal/config"
	"github.com/garnizeh/placement/internal/workflow"
)

func SetupRoutes(cfg *config.Config, version, buildTime string, engine *workflow.Engine) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{}
	apps := NewApplicationsHandler(engine)
	docs := NewDocumentsHandler(engine)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.Handle("/metrics", systemHandler.MetricsHandler()).Methods("GET")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		apiV1.Use(NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Middleware)
	}

	// Applications
	apiV1.HandleFunc("/applications", apps.Submit).Methods("POST")
	apiV1.HandleFunc("/applications/{id}", apps.Get).Methods("GET")
	apiV1.HandleFunc("/applications/{id}/status", apps.Transition).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/resubmit", apps.Resubmit).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/override", RequireRole(RoleAdmin, apps.Override)).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/history", apps.History).Methods("GET")
	apiV1.HandleFunc("/applications/{id}/staff/actions", apps.StaffAction).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/supervisor", apps.AssignSupervisor).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/supervisor/actions", apps.SupervisorAction).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/decisions", apps.RecordDecision).Methods("POST")
	apiV1.HandleFunc("/applications/{id}/decisions", apps.ListDecisions).Methods("GET")

	// Documents
	apiV1.HandleFunc("/prints", docs.Print).Methods("POST")
	apiV1.HandleFunc("/prints/{id}", docs.GetPrint).Methods("GET")
	apiV1.HandleFunc("/prints/{id}/reprint", docs.Reprint).Methods("POST")
	apiV1.HandleFunc("/document-numbers", docs.Allocate).Methods("POST")
	apiV1.HandleFunc("/sequences/{kind}/{language}", docs.GetSequence).Methods("GET")
	apiV1.HandleFunc("/sequences/{kind}/{language}/next", docs.PeekSequence).Methods("GET")
	apiV1.HandleFunc("/sequences/{kind}/{language}", RequireRole(RoleAdmin, docs.ConfigureSequence)).Methods("PUT")

	return r
}
