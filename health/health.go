// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"fmt"
	"time"

	"github.com/kalepool/pooler/monitor"
)

// MonitorSource exposes the block monitor's snapshot to the tracker.
type MonitorSource interface {
	Status() monitor.Status
}

// Status is the readiness report served on /health.
type Status struct {
	Status            string     `json:"status"`
	State             string     `json:"state"`
	BlockIndex        uint32     `json:"blockIndex"`
	ConsecutiveErrors int        `json:"consecutiveErrors"`
	TotalDiscovered   uint64     `json:"totalDiscovered"`
	LastBlockAt       *time.Time `json:"lastBlockAt"`
	Uptime            string     `json:"uptime"`
	Reason            string     `json:"reason,omitempty"`
}

// Healthy reports whether the pooler should be considered ready for traffic.
func (s *Status) Healthy() bool {
	return s.Status == "healthy"
}

// Health derives readiness from the block monitor. The pooler is healthy
// while the monitor is running and under its consecutive error ceiling;
// halted or stopped monitors make the whole process unhealthy since no new
// blocks can be discovered.
type Health struct {
	source MonitorSource
}

func New(source MonitorSource) *Health {
	return &Health{source: source}
}

func (h *Health) Status() (*Status, error) {
	ms := h.source.Status()

	out := &Status{
		Status:            "healthy",
		State:             string(ms.State),
		BlockIndex:        ms.LastBlockIndex,
		ConsecutiveErrors: ms.ConsecutiveErrors,
		TotalDiscovered:   ms.TotalDiscovered,
	}
	if !ms.LastBlockAt.IsZero() {
		at := ms.LastBlockAt
		out.LastBlockAt = &at
	}
	if !ms.StartedAt.IsZero() {
		out.Uptime = time.Since(ms.StartedAt).Truncate(time.Second).String()
	}

	switch {
	case ms.State == monitor.StateHalted:
		out.Status = "unhealthy"
		out.Reason = fmt.Sprintf("monitor halted after %d consecutive chain errors", ms.ConsecutiveErrors)
	case ms.State == monitor.StateStopped:
		out.Status = "unhealthy"
		out.Reason = "monitor stopped"
	case ms.State == monitor.StateCreated:
		out.Status = "unhealthy"
		out.Reason = "monitor not started"
	case ms.ConsecutiveErrors >= ms.MaxErrors:
		out.Status = "unhealthy"
		out.Reason = fmt.Sprintf("chain error ceiling reached (%d/%d)", ms.ConsecutiveErrors, ms.MaxErrors)
	}
	return out, nil
}
