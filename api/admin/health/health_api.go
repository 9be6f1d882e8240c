// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kalepool/pooler/api/restutil"
	"github.com/kalepool/pooler/health"
)

type API struct {
	healthStatus *health.Health
}

func NewAPI(healthStatus *health.Health) *API {
	return &API{
		healthStatus: healthStatus,
	}
}

func (h *API) handleGetHealth(w http.ResponseWriter, _ *http.Request) error {
	status, err := h.healthStatus.Status()
	if err != nil {
		return err
	}

	if !status.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	return restutil.WriteJSON(w, status)
}

func (h *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodGet).
		Name("health").
		HandlerFunc(restutil.WrapHandlerFunc(h.handleGetHealth))
}
