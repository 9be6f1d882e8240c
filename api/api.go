// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	healthAPI "github.com/kalepool/pooler/api/admin/health"
	"github.com/kalepool/pooler/api/plantings"
	"github.com/kalepool/pooler/api/status"
	"github.com/kalepool/pooler/chain"
	"github.com/kalepool/pooler/health"
	"github.com/kalepool/pooler/monitor"
	"github.com/kalepool/pooler/work"
)

var logger = log.New("pkg", "api")

type Options struct {
	AllowedOrigins string
	PoolerID       string
	AuthToken      string
	Version        string
	EnableMetrics  bool
}

// LogStatus is the request-logger toggle body shared with the admin API.
type LogStatus struct {
	Enabled bool `json:"enabled"`
}

// New returns the inbound API router. Request logging is gated per request by
// reqLogs so the admin endpoint can flip it at runtime.
func New(
	coordinator *work.Coordinator,
	mon *monitor.Monitor,
	chainClient *chain.Client,
	healthStatus *health.Health,
	reqLogs *atomic.Bool,
	opts Options,
) http.HandlerFunc {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	plantings.New(coordinator, opts.AuthToken).
		Mount(router, "/backend")
	status.New(opts.PoolerID, opts.Version, mon, coordinator, chainClient).
		Mount(router, "/status")
	healthAPI.NewAPI(healthStatus).
		Mount(router, "/health")

	if opts.EnableMetrics {
		router.Use(metricsMiddleware)
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type", "authorization"}),
	)(handler)
	handler = RequestLoggerHandler(handler, logger, reqLogs)

	return handler.ServeHTTP
}
