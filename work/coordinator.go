// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package work

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/co"
)

// Reporter delivers work-completion reports. Implemented by backend.Client.
type Reporter interface {
	ReportWorkCompleted(ctx context.Context, r *backend.WorkReport) error
}

// MinerControl is the live-process handle the coordinator needs for status
// and emergency stops. Implemented by miner.Runner.
type MinerControl interface {
	Running() bool
	KillCurrent()
}

var errStopped = errors.New("coordinator stopped")

// Coordinator accepts planting notifications and runs one batch goroutine per
// block: pending until the work window opens, active while farmers are worked,
// then reported and forgotten. Nothing is persisted.
type Coordinator struct {
	scheduler *Scheduler
	reporter  Reporter
	miner     MinerControl

	mu               sync.Mutex
	pending          map[uint32]*Notification
	active           map[uint32]time.Time
	draining         bool
	batchesCompleted uint64
	lastCompleted    time.Time

	ctx    context.Context
	cancel func()
	goes   co.Goes
	done   co.Signal
}

// NewCoordinator creates a Coordinator. Close is required at end.
func NewCoordinator(scheduler *Scheduler, reporter Reporter, miner MinerControl) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		scheduler: scheduler,
		reporter:  reporter,
		miner:     miner,
		pending:   make(map[uint32]*Notification),
		active:    make(map[uint32]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// HandlePlanting validates and schedules a notification. A ValidationError
// means the notification was refused; duplicates of a pending or active block
// are ignored without error.
func (c *Coordinator) HandlePlanting(n *Notification) error {
	if err := n.validate(); err != nil {
		logger.Warn("planting notification refused", "block", n.BlockIndex, "err", err)
		return err
	}

	c.mu.Lock()
	if c.draining || c.ctx.Err() != nil {
		c.mu.Unlock()
		return errStopped
	}
	if _, dup := c.pending[n.BlockIndex]; dup {
		c.mu.Unlock()
		logger.Warn("duplicate planting notification ignored", "block", n.BlockIndex, "state", "pending")
		return nil
	}
	if _, dup := c.active[n.BlockIndex]; dup {
		c.mu.Unlock()
		logger.Warn("duplicate planting notification ignored", "block", n.BlockIndex, "state", "active")
		return nil
	}
	c.pending[n.BlockIndex] = n
	c.mu.Unlock()
	c.updateGauges()

	logger.Info("work batch scheduled",
		"block", n.BlockIndex, "farmers", len(n.Farmers), "blockTimestamp", n.BlockTimestamp)
	c.goes.Go(func() { c.runBatch(n) })
	return nil
}

func (c *Coordinator) runBatch(n *Notification) {
	defer c.done.Broadcast()
	defer func() {
		c.mu.Lock()
		delete(c.pending, n.BlockIndex)
		delete(c.active, n.BlockIndex)
		c.mu.Unlock()
		c.updateGauges()
	}()

	batch := &Batch{
		BlockIndex:     n.BlockIndex,
		EntropyHex:     n.EntropyHex,
		BlockTimestamp: n.BlockTimestamp,
		Farmers:        n.Farmers,
	}

	// pending while the window is closed, active once mining can begin
	if !sleepUntil(c.ctx, c.scheduler.WorkStart(batch)) {
		logger.Warn("batch dropped before work window", "block", n.BlockIndex)
		return
	}
	if !c.markActive(n.BlockIndex) {
		logger.Warn("batch dropped while draining", "block", n.BlockIndex)
		return
	}

	result := c.scheduler.Schedule(c.ctx, batch)
	if result.Aborted || c.isDraining() {
		logger.Warn("batch aborted, report skipped",
			"block", n.BlockIndex, "resultsCollected", len(result.Results))
		return
	}

	report := buildReport(n.BlockIndex, result)
	if err := c.reporter.ReportWorkCompleted(c.ctx, report); err != nil {
		// dropped on purpose: reports are not spooled
		logger.Error("work report rejected, dropping", "block", n.BlockIndex, "err", err)
	} else {
		logger.Info("work report delivered",
			"block", n.BlockIndex,
			"farmers", report.Summary.TotalFarmers,
			"successful", report.Summary.SuccessfulWork,
			"failed", report.Summary.FailedWork)
	}

	c.mu.Lock()
	c.batchesCompleted++
	c.lastCompleted = time.Now()
	c.mu.Unlock()
	metricBatchesCompleted().Add(1)
}

func (c *Coordinator) markActive(blockIndex uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining || c.ctx.Err() != nil {
		return false
	}
	delete(c.pending, blockIndex)
	c.active[blockIndex] = time.Now()
	return true
}

func (c *Coordinator) isDraining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// Status returns a snapshot of batch state.
func (c *Coordinator) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Status{
		Pending:          sortedKeys(c.pending),
		Active:           sortedActive(c.active),
		MinerRunning:     c.miner.Running(),
		BatchesCompleted: c.batchesCompleted,
		LastCompletedAt:  c.lastCompleted,
		Draining:         c.draining,
	}
}

// BatchDoneWaiter returns a waiter released whenever a batch goroutine
// finishes, reported or not.
func (c *Coordinator) BatchDoneWaiter() co.Waiter {
	return c.done.NewWaiter()
}

// EmergencyStop drops all pending batches, kills the live miner child and
// puts the coordinator into draining: running batches abort at the next
// farmer boundary and nothing further is reported.
func (c *Coordinator) EmergencyStop() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	dropped := len(c.pending)
	c.pending = make(map[uint32]*Notification)
	c.mu.Unlock()
	c.updateGauges()

	c.cancel()
	c.miner.KillCurrent()
	logger.Warn("emergency stop", "droppedPending", dropped)
}

// Close aborts in-flight batches and waits for their goroutines.
func (c *Coordinator) Close() {
	c.cancel()
	c.miner.KillCurrent()
	c.goes.Wait()
	logger.Info("coordinator closed")
}

func (c *Coordinator) updateGauges() {
	c.mu.Lock()
	pending, active := len(c.pending), len(c.active)
	c.mu.Unlock()
	metricPendingBatches().Set(int64(pending))
	metricActiveBatches().Set(int64(active))
}

func buildReport(blockIndex uint32, result *BatchResult) *backend.WorkReport {
	summary := backend.WorkSummary{
		TotalFarmers:  len(result.Results),
		TotalWorkTime: result.TotalWorkTime,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	for _, r := range result.Results {
		if r.Status == backend.StatusFailed {
			summary.FailedWork++
		} else {
			summary.SuccessfulWork++
		}
	}
	return &backend.WorkReport{
		BlockIndex:  blockIndex,
		WorkResults: result.Results,
		Summary:     summary,
	}
}

func sleepUntil(ctx context.Context, target time.Time) bool {
	if target.IsZero() {
		return ctx.Err() == nil
	}
	wait := time.Until(target)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func sortedKeys(m map[uint32]*Notification) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedActive(m map[uint32]time.Time) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
