package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mcdev12/roadbook/go/internal/racetimer/gateway"
	"github.com/mcdev12/roadbook/go/internal/racetimer/rpc"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(addr string, gatewayService *gateway.Service, rpcService *rpc.Service) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      newHandler(gatewayService, rpcService),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// newHandler mounts every surface on one mux, wrapped for CORS and
// cleartext HTTP/2 so Connect clients can use either protocol version.
func newHandler(gatewayService *gateway.Service, rpcService *rpc.Service) http.Handler {
	mux := http.NewServeMux()

	// WebSocket push and REST commands
	gatewayService.RegisterRoutes(mux)

	rpcPath, rpcHandler := rpc.NewRaceTimerServiceHandler(rpcService)
	mux.Handle(rpcPath, rpcHandler)

	setupHealthCheck(mux)
	setupInfo(mux, gatewayService)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}

type serviceInfo struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
}

func setupInfo(mux *http.ServeMux, gatewayService *gateway.Service) {
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		info := serviceInfo{
			Service:     "race-timer",
			Version:     version,
			Connections: gatewayService.GetStats().TotalConnections,
		}
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to encode service info")
		}
	})
}
