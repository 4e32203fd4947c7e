package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mmynk/tallyledger/internal/api/respond"
	"github.com/mmynk/tallyledger/internal/auth"
	"github.com/mmynk/tallyledger/internal/metrics"
	"github.com/mmynk/tallyledger/internal/middleware"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	Handler    *Handler
	Verifier   auth.Verifier
	CORSOrigin string
}

// NewRouter wires every route. CORS, access logging and panic recovery wrap
// the whole router; per-route metrics run after matching.
func NewRouter(d Deps) http.Handler {
	h := d.Handler
	router := mux.NewRouter()
	router.Use(middleware.Metrics)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteStatus(w, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond.WriteStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/transcribe", h.Transcribe).Methods(http.MethodPost)

	authed := router.NewRoute().Subrouter()
	authed.Use(middleware.RequireAuth(d.Verifier))
	authed.HandleFunc("/ingest", h.Ingest).Methods(http.MethodPost)
	authed.HandleFunc("/create-person", h.CreatePerson).Methods(http.MethodPost)
	authed.HandleFunc("/persons", h.ListPersons).Methods(http.MethodGet)
	authed.HandleFunc("/persons/search", h.SearchPersons).Methods(http.MethodGet)
	authed.HandleFunc("/person/{id}", h.GetPerson).Methods(http.MethodGet)
	authed.HandleFunc("/person/{id}/add-entry", h.AddEntry).Methods(http.MethodPost)
	authed.HandleFunc("/person/{id}/details", h.ListDetails).Methods(http.MethodGet)
	authed.HandleFunc("/person-delete/{id}", h.DeletePerson).Methods(http.MethodDelete)

	return middleware.CORS(d.CORSOrigin)(middleware.Logging(middleware.Recovery(router)))
}
