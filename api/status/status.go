// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package status serves the pooler's aggregated runtime snapshot.
package status

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kalepool/pooler/api/restutil"
	"github.com/kalepool/pooler/monitor"
	"github.com/kalepool/pooler/work"
)

// MonitorSource exposes the block monitor snapshot.
type MonitorSource interface {
	Status() monitor.Status
}

// WorkSource exposes the coordinator snapshot.
type WorkSource interface {
	Status() *work.Status
}

// ChainSource exposes the last ledger observed on the RPC endpoint.
type ChainSource interface {
	LatestLedger() uint32
}

type MonitorStatus struct {
	State             string     `json:"state"`
	BlockIndex        uint32     `json:"blockIndex"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
	TotalPolls        uint64     `json:"totalPolls"`
	TotalDiscovered   uint64     `json:"totalDiscovered"`
	Reorgs            uint64     `json:"reorgs"`
	LastBlockAt       *time.Time `json:"lastBlockAt"`
	LastError         string     `json:"lastError,omitempty"`
}

type WorkStatus struct {
	Pending          []uint32   `json:"pending"`
	Active           []uint32   `json:"active"`
	MinerRunning     bool       `json:"minerRunning"`
	BatchesCompleted uint64     `json:"batchesCompleted"`
	LastCompletedAt  *time.Time `json:"lastCompletedAt"`
	Draining         bool       `json:"draining"`
}

type ChainStatus struct {
	LatestLedger uint32 `json:"latestLedger"`
}

type Response struct {
	PoolerID string        `json:"poolerId"`
	Version  string        `json:"version"`
	Monitor  MonitorStatus `json:"monitor"`
	Work     WorkStatus    `json:"work"`
	Chain    ChainStatus   `json:"chain"`
}

type Status struct {
	poolerID string
	version  string
	monitor  MonitorSource
	work     WorkSource
	chain    ChainSource
}

func New(poolerID, version string, monitor MonitorSource, work WorkSource, chain ChainSource) *Status {
	return &Status{
		poolerID: poolerID,
		version:  version,
		monitor:  monitor,
		work:     work,
		chain:    chain,
	}
}

func (s *Status) handleGetWork(w http.ResponseWriter, _ *http.Request) error {
	ms := s.monitor.Status()
	ws := s.work.Status()

	out := Response{
		PoolerID: s.poolerID,
		Version:  s.version,
		Monitor: MonitorStatus{
			State:             string(ms.State),
			BlockIndex:        ms.LastBlockIndex,
			ConsecutiveErrors: ms.ConsecutiveErrors,
			TotalPolls:        ms.TotalPolls,
			TotalDiscovered:   ms.TotalDiscovered,
			Reorgs:            ms.Reorgs,
			LastError:         ms.LastError,
		},
		Work: WorkStatus{
			Pending:          ws.Pending,
			Active:           ws.Active,
			MinerRunning:     ws.MinerRunning,
			BatchesCompleted: ws.BatchesCompleted,
			Draining:         ws.Draining,
		},
		Chain: ChainStatus{
			LatestLedger: s.chain.LatestLedger(),
		},
	}
	if !ms.LastBlockAt.IsZero() {
		at := ms.LastBlockAt
		out.Monitor.LastBlockAt = &at
	}
	if !ws.LastCompletedAt.IsZero() {
		at := ws.LastCompletedAt
		out.Work.LastCompletedAt = &at
	}
	if out.Work.Pending == nil {
		out.Work.Pending = []uint32{}
	}
	if out.Work.Active == nil {
		out.Work.Active = []uint32{}
	}
	return restutil.WriteJSON(w, out)
}

func (s *Status) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("/work").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(s.handleGetWork))
}
