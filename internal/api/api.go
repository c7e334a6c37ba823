package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/xdrportal/xdrportal/internal/api/schema"
	"github.com/xdrportal/xdrportal/internal/config"
	"github.com/xdrportal/xdrportal/internal/storage"
)

// Service represents the local snapshot API service.
// It is a read-only surface over the persisted harvest snapshots, meant to be bound to localhost.
type Service struct {
	server *http.Server

	Config  *config.Config
	Storage storage.Driver

	writer *schema.Writer
}

// Startup starts up the snapshot API
func (service *Service) Startup() error {
	// Create the HTTP schema writer
	service.writer = &schema.Writer{
		InternalErrorHook: func(err error) {
			log.Error().Err(err).Msg("the snapshot API experienced an unexpected error")
		},
	}

	// Create the HTTP router
	router := chi.NewRouter()
	router.Use(middleware.RedirectSlashes)
	router.NotFound(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusNotFound, schema.ErrNotFound)
	})
	router.MethodNotAllowed(func(writer http.ResponseWriter, _ *http.Request) {
		service.writer.WriteErrors(writer, http.StatusMethodNotAllowed, schema.ErrMethodNotAllowed)
	})

	// Register the snapshot controller endpoints
	router.Get("/v1/snapshots", withMiddlewares(service.EndpointGetSnapshots, service.middlewareRequestLog))
	router.Get("/v1/snapshots/{id}", withMiddlewares(service.EndpointGetSnapshot, service.middlewareRequestLog))

	// Start up the server
	server := &http.Server{
		Addr:    service.Config.APIListenAddress,
		Handler: router,
	}
	service.server = server
	return server.ListenAndServe()
}

// Shutdown shuts down the snapshot API
func (service *Service) Shutdown() {
	if service.server != nil {
		service.server.Close()
		service.server = nil
	}
}

// middlewareRequestLog logs one debug event per handled request
func (service *Service) middlewareRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		next(writer, request)
		log.Debug().
			Str("method", request.Method).
			Str("path", request.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("handled snapshot API request")
	}
}

func withMiddlewares(end http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	final := end
	for i := len(middlewares); i > 0; i-- {
		final = middlewares[i-1](final)
	}
	return final
}
