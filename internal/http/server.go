package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/service"
)

type Server struct {
	Rides    *service.Service
	Registry *registry.Registry
	Kafka    *ingest.KafkaProducer // nil when Kafka is not configured
	WSReg    *dispatch.WSRegistry

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(svc *service.Service, reg *registry.Registry, kafka *ingest.KafkaProducer, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Rides:    svc,
		Registry: reg,
		Kafka:    kafka,
		WSReg:    wsreg,
		mux:      mux.NewRouter(),
		logger:   logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleGetRide).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/response", s.handleDriverResponse).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/status", s.handleStatusUpdate).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
