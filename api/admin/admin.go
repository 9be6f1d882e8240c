// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package admin

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/kalepool/pooler/api/admin/apilogs"
	healthAPI "github.com/kalepool/pooler/api/admin/health"
	"github.com/kalepool/pooler/api/admin/loglevel"
	"github.com/kalepool/pooler/health"
)

func New(logLevel *slog.LevelVar, glog *log.GlogHandler, healthStatus *health.Health, apiLogs *atomic.Bool) http.HandlerFunc {
	router := mux.NewRouter()

	loglevel.New(logLevel, glog).Mount(router, "/admin/loglevel")
	healthAPI.NewAPI(healthStatus).Mount(router, "/admin/health")
	apilogs.New(apiLogs).Mount(router, "/admin/apilogs")

	handler := handlers.CompressHandler(router)

	return handler.ServeHTTP
}
