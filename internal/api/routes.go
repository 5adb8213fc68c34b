package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Admin/control surface
	api.HandleFunc("/collect/trigger", handler.TriggerCollection).Methods("POST")
	api.HandleFunc("/collect/status", handler.CollectionStatus).Methods("GET")

	// Read surface
	api.HandleFunc("/symbols", handler.GetSymbols).Methods("GET")
	api.HandleFunc("/symbols/{symbol}/prices", handler.GetPrices).Methods("GET")
	api.HandleFunc("/symbols/{symbol}/latest", handler.GetLatestPrice).Methods("GET")
	api.HandleFunc("/symbols/{symbol}/summary", handler.GetSummary).Methods("GET")

	return r
}
