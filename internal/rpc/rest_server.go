package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sutehoge/catapult-server/internal/logger"
	"github.com/sutehoge/catapult-server/internal/metrics"
)

var log = logger.CreateForPackage()

const (
	headerContentType = "Content-Type"
	applicationJSON   = "application/json"
	applicationCBOR   = "application/cbor"
)

var allowedCORSHeaders = []string{"Accept", "Accept-Language", "Content-Language", "Origin", headerContentType}

type (
	// Registrar registers new HTTP handlers for given router.
	Registrar interface {
		Register(r *mux.Router)
	}

	// RegistrarFunc type is an adapter to allow the use of ordinary function as Registrar.
	RegistrarFunc func(r *mux.Router)
)

func (f RegistrarFunc) Register(r *mux.Router) {
	f(r)
}

// NewRESTServer builds the read only HTTP API of the node.
func NewRESTServer(addr string, maxBodySize int64, registrars ...Registrar) *http.Server {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)
	r.Handle("/metrics", metrics.PrometheusHandler())

	apiV1Router := r.PathPrefix("/api/v1").Subrouter()
	apiV1Router.Use(handlers.CORS(handlers.AllowedHeaders(allowedCORSHeaders)))

	for _, registrar := range registrars {
		registrar.Register(apiV1Router)
	}

	return &http.Server{
		Addr:              addr,
		ReadTimeout:       3 * time.Second,
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler:           http.MaxBytesHandler(r, maxBodySize),
	}
}
