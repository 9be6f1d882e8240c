// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package plantings receives planting outcomes from the Backend and hands
// them to the work coordinator.
package plantings

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/kalepool/pooler/api/restutil"
	"github.com/kalepool/pooler/work"
)

var logger = log.New("pkg", "plantings")

// Coordinator schedules validated planting notifications.
type Coordinator interface {
	HandlePlanting(n *work.Notification) error
}

// Ack is the reply for both planting endpoints.
type Ack struct {
	Status     string `json:"status"`
	BlockIndex uint32 `json:"blockIndex"`
	Farmers    int    `json:"farmers"`
}

type Plantings struct {
	coordinator Coordinator
	authToken   string
}

func New(coordinator Coordinator, authToken string) *Plantings {
	return &Plantings{
		coordinator: coordinator,
		authToken:   authToken,
	}
}

func (p *Plantings) handlePlantingStatus(w http.ResponseWriter, r *http.Request) error {
	return p.schedule(w, r)
}

// handlePlantedFarmers is the authenticated variant. The Backend sends the
// same notification with a pre-normalized camelCase body.
func (p *Plantings) handlePlantedFarmers(w http.ResponseWriter, r *http.Request) error {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
		return restutil.Unauthorized(errors.New("missing bearer token"))
	}
	if strings.TrimPrefix(auth, "Bearer ") != p.authToken {
		return restutil.Forbidden(errors.New("invalid token"))
	}
	return p.schedule(w, r)
}

func (p *Plantings) schedule(w http.ResponseWriter, r *http.Request) error {
	// Lenient decode: the Backend body carries fields the pooler has no use
	// for, unknown keys must not fail the request.
	var body notificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}

	n, err := body.normalize()
	if err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "body"))
	}

	if len(n.Farmers) == 0 {
		logger.Info("planting status without farmers acknowledged", "block", n.BlockIndex)
		return restutil.WriteJSON(w, Ack{Status: "received", BlockIndex: n.BlockIndex})
	}

	if err := p.coordinator.HandlePlanting(n); err != nil {
		if work.IsValidationError(err) {
			return restutil.WriteJSON(w, Ack{
				Status:     "ignored",
				BlockIndex: n.BlockIndex,
				Farmers:    len(n.Farmers),
			})
		}
		return restutil.HTTPError(err, http.StatusServiceUnavailable)
	}

	return restutil.WriteJSON(w, Ack{
		Status:     "scheduled",
		BlockIndex: n.BlockIndex,
		Farmers:    len(n.Farmers),
	})
}

func (p *Plantings) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/planting-status").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(p.handlePlantingStatus))

	sub.Path("/planted-farmers").
		Methods(http.MethodPost).
		HandlerFunc(restutil.WrapHandlerFunc(p.handlePlantedFarmers))
}
