package routes

import (
	"net/http"

	"collab-jobs/api/rest/handlers"
	"collab-jobs/api/rest/middleware"
	"collab-jobs/core/lifecycle"
	"collab-jobs/core/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Options configures the webhook surface
type Options struct {
	WebhookSecret  string
	WebhookLimiter middleware.Limiter
	Logger         logrus.FieldLogger
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, jobs *lifecycle.Controller, ingestor *webhook.Ingestor, opts Options) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	jobHandler := handlers.NewJobHandler(jobs, logger)
	webhookHandler := handlers.NewWebhookHandler(ingestor)

	r.Use(middleware.RequestLogger(logger))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Adapter callbacks authenticate with the shared secret, not a principal.
	// Throttling comes first so secret guesses are counted too.
	hooks := api.PathPrefix("/webhooks").Subrouter()
	if opts.WebhookLimiter != nil {
		hooks.Use(middleware.RateLimit(opts.WebhookLimiter, "webhook", logger))
	}
	hooks.Use(middleware.RequireSecret(opts.WebhookSecret))
	hooks.HandleFunc("/jobs", webhookHandler.JobEvent).Methods("POST")

	// Job endpoints
	jobsRouter := api.PathPrefix("/jobs").Subrouter()
	jobsRouter.Use(middleware.Authenticate)
	jobsRouter.HandleFunc("", jobHandler.CreateJob).Methods("POST")
	jobsRouter.HandleFunc("", jobHandler.ListJobs).Methods("GET")
	jobsRouter.HandleFunc("/{id}", jobHandler.GetJob).Methods("GET")
	jobsRouter.HandleFunc("/{id}/start", jobHandler.StartJob).Methods("POST")
	jobsRouter.HandleFunc("/{id}/cancel", jobHandler.CancelJob).Methods("POST")
	jobsRouter.HandleFunc("/{id}/artifact", jobHandler.GetArtifact).Methods("GET")
	jobsRouter.HandleFunc("/{id}/artifact/info", jobHandler.GetArtifactInfo).Methods("GET")
}
