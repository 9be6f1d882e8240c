// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package monitor polls contract storage for farm-index advances and notifies
// the Backend exactly once per discovered block.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/chain"
	"github.com/kalepool/pooler/co"
)

var logger = log.New("pkg", "monitor")

// State is the monitor lifecycle phase.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateHalted  State = "halted" // error ceiling reached, polling stopped
	StateStopped State = "stopped"
)

const notifiedCacheSize = 1024

// ChainSource supplies contract storage reads. Implemented by chain.Reader.
type ChainSource interface {
	FarmIndex(ctx context.Context) (uint32, error)
	Block(ctx context.Context, index uint32) (*chain.BlockRecord, error)
	Snapshot(ctx context.Context) (*chain.Snapshot, error)
}

// Notifier delivers discovery notifications. Implemented by backend.Client.
type Notifier interface {
	NotifyBlockDiscovered(ctx context.Context, d *backend.BlockDiscovery) error
	NotifyStartupBlock(ctx context.Context, s *backend.StartupBlock) error
}

// Options tunes the monitor. Zero values select the defaults.
type Options struct {
	PollInterval    time.Duration // default 5s
	InitialDelay    time.Duration // delay before the first poll, default 10s
	MaxErrors       int           // consecutive chain errors before halt, default 10
	MaxMissedBlocks uint32        // index-jump warning threshold, default 5
	PlantDelay      time.Duration // plantable window lower bound, default 30s
	PlantableMaxAge time.Duration // plantable window upper bound, default 240s
	StartupMaxAge   time.Duration // startup-shortcut age ceiling, default 120s
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.PollInterval <= 0 {
		out.PollInterval = 5 * time.Second
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = 10 * time.Second
	}
	if out.MaxErrors <= 0 {
		out.MaxErrors = 10
	}
	if out.MaxMissedBlocks == 0 {
		out.MaxMissedBlocks = 5
	}
	if out.PlantDelay <= 0 {
		out.PlantDelay = 30 * time.Second
	}
	if out.PlantableMaxAge <= 0 {
		out.PlantableMaxAge = 240 * time.Second
	}
	if out.StartupMaxAge <= 0 {
		out.StartupMaxAge = 120 * time.Second
	}
	return out
}

// BlockEvent is published on the in-process feed after a successful discovery
// notification.
type BlockEvent struct {
	Index     uint32
	Block     *chain.BlockRecord
	Plantable bool
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	State             State
	Cursor            uint32
	ConsecutiveErrors int
	MaxErrors         int
	TotalPolls        uint64
	TotalDiscovered   uint64
	Reorgs            uint64
	LastBlockIndex    uint32
	LastBlockAt       time.Time // zero until the first discovery
	LastError         string
	StartedAt         time.Time
}

// Monitor watches the farm index and drives discovery notifications. The
// cursor only advances past a new index once the Backend has acknowledged it,
// so a failed notification is retried on the next tick.
type Monitor struct {
	source   ChainSource
	notifier Notifier
	opts     Options
	notified *lru.Cache // block indexes already delivered

	mu     sync.Mutex
	status Status

	ctx    context.Context
	cancel func()
	feed   event.Feed
	scope  event.SubscriptionScope
	goes   co.Goes
}

// New creates a Monitor. Call Start to take the initial snapshot and begin
// polling; Close is required at end.
func New(source ChainSource, notifier Notifier, opts Options) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	notified, _ := lru.New(notifiedCacheSize)
	return &Monitor{
		source:   source,
		notifier: notifier,
		opts:     opts.withDefaults(),
		notified: notified,
		status:   Status{State: StateCreated, MaxErrors: opts.withDefaults().MaxErrors},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start takes the initial chain snapshot, runs the startup shortcut, and
// spawns the poll loop. A snapshot failure aborts the start: connectivity to
// the chain is a hard precondition, unlike anything after it.
func (m *Monitor) Start(ctx context.Context) error {
	snap, err := m.source.Snapshot(ctx)
	if err != nil {
		return errors.WithMessage(err, "initial chain snapshot")
	}

	now := time.Now()
	m.mu.Lock()
	m.status.State = StateRunning
	m.status.Cursor = snap.Index
	m.status.LastBlockIndex = snap.Index
	m.status.StartedAt = now
	m.mu.Unlock()
	metricFarmIndex().Set(int64(snap.Index))

	logger.Info("chain baseline established", "farmIndex", snap.Index, "hasBlock", snap.Block != nil)

	m.startupShortcut(ctx, snap, now)

	m.goes.Go(m.pollLoop)
	return nil
}

// startupShortcut notifies the Backend about the current block when it is
// young enough to still be worth planting. Delivery failure is not fatal and
// leaves the index unmarked, so the poll loop may retry on a later advance.
func (m *Monitor) startupShortcut(ctx context.Context, snap *chain.Snapshot, now time.Time) {
	if snap.Block == nil || snap.Block.Timestamp == nil {
		return
	}
	age := snap.Block.Age(now)
	if age >= uint64(m.opts.StartupMaxAge/time.Second) {
		logger.Debug("startup block too old", "block", snap.Index, "age", age)
		return
	}

	note := &backend.StartupBlock{
		BlockIndex:     snap.Index,
		Entropy:        snap.Block.EntropyHex(),
		BlockTimestamp: *snap.Block.Timestamp,
		BlockAge:       int64(age),
		DiscoveredAt:   now.UTC().Format(time.RFC3339),
	}
	if err := m.notifier.NotifyStartupBlock(ctx, note); err != nil {
		logger.Warn("startup block notification failed", "block", snap.Index, "err", err)
		return
	}
	m.notified.Add(snap.Index, struct{}{})
	logger.Info("startup block notified", "block", snap.Index, "age", age)
}

func (m *Monitor) pollLoop() {
	logger.Debug("enter poll loop")
	defer logger.Debug("leave poll loop")

	select {
	case <-m.ctx.Done():
		return
	case <-time.After(m.opts.InitialDelay):
	}

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce()
			if m.Status().State == StateHalted {
				return
			}
		}
	}
}

func (m *Monitor) pollOnce() {
	m.mu.Lock()
	m.status.TotalPolls++
	cursor := m.status.Cursor
	m.mu.Unlock()
	metricPolls().Add(1)

	index, err := m.source.FarmIndex(m.ctx)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.recordError(err)
		return
	}
	m.clearErrors()
	metricFarmIndex().Set(int64(index))

	switch {
	case index < cursor:
		logger.Warn("farm index regressed", "from", cursor, "to", index)
		metricReorgs().Add(1)
		m.mu.Lock()
		m.status.Cursor = index
		m.status.Reorgs++
		m.mu.Unlock()

	case index == cursor:
		// nothing new

	default:
		if gap := index - cursor; gap > m.opts.MaxMissedBlocks {
			logger.Warn("blocks skipped", "from", cursor, "to", index, "gap", gap)
		}
		m.discover(index)
	}
}

// discover reads the new block and notifies the Backend. The cursor moves only
// after a delivered (or previously delivered) notification.
func (m *Monitor) discover(index uint32) {
	block, err := m.source.Block(m.ctx, index)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.recordError(err)
		return
	}

	if m.notified.Contains(index) {
		m.advance(index, nil, false)
		return
	}

	note, plantable := m.buildDiscovery(index, block)
	if err := m.notifier.NotifyBlockDiscovered(m.ctx, note); err != nil {
		metricNotifyFailures().Add(1)
		logger.Error("block discovery notification failed", "block", index, "err", err)
		return
	}
	m.notified.Add(index, struct{}{})
	m.advance(index, &BlockEvent{Index: index, Block: block, Plantable: plantable}, true)
}

func (m *Monitor) buildDiscovery(index uint32, block *chain.BlockRecord) (*backend.BlockDiscovery, bool) {
	if block == nil {
		block = &chain.BlockRecord{Index: index}
	}
	now := time.Now()
	age := block.Age(now)
	plantable := age >= uint64(m.opts.PlantDelay/time.Second) && age < uint64(m.opts.PlantableMaxAge/time.Second)

	timestamp := now.UTC()
	if block.Timestamp != nil {
		timestamp = time.Unix(int64(*block.Timestamp), 0).UTC()
	}

	m.mu.Lock()
	uptime := now.Sub(m.status.StartedAt).Milliseconds()
	total := m.status.TotalDiscovered + 1
	m.mu.Unlock()

	return &backend.BlockDiscovery{
		BlockIndex: index,
		BlockData: backend.BlockData{
			Index:     index,
			Timestamp: timestamp.Format(time.RFC3339),
			Entropy:   block.EntropyHex(),
			BlockAge:  int64(age),
			Plantable: plantable,
			MinStake:  stakeString(block.MinStake),
			MaxStake:  stakeString(block.MaxStake),
			MinZeros:  block.MinZeros,
			MaxZeros:  block.MaxZeros,
			MinGap:    block.MinGap,
			MaxGap:    block.MaxGap,
		},
		Metadata: backend.DiscoveryMetadata{
			DiscoveredAt:          now.UTC().Format(time.RFC3339),
			PoolerUptime:          uptime,
			TotalBlocksDiscovered: total,
		},
	}, plantable
}

func (m *Monitor) advance(index uint32, ev *BlockEvent, fresh bool) {
	m.mu.Lock()
	m.status.Cursor = index
	m.status.LastBlockIndex = index
	if fresh {
		m.status.TotalDiscovered++
		m.status.LastBlockAt = time.Now()
	}
	total := m.status.TotalDiscovered
	m.mu.Unlock()

	if fresh {
		metricDiscovered().Add(1)
		logger.Info("new block discovered", "block", index, "totalDiscovered", total)
		m.feed.Send(*ev)
	} else {
		logger.Debug("block already notified, cursor advanced", "block", index)
	}
}

func (m *Monitor) recordError(err error) {
	m.mu.Lock()
	m.status.ConsecutiveErrors++
	m.status.LastError = err.Error()
	count := m.status.ConsecutiveErrors
	halted := count >= m.opts.MaxErrors
	if halted {
		m.status.State = StateHalted
	}
	m.mu.Unlock()

	metricPollErrors().Add(1)
	if halted {
		logger.Error("consecutive error ceiling reached, monitor halted", "errors", count, "err", err)
	} else {
		logger.Warn("chain poll failed", "errors", count, "max", m.opts.MaxErrors, "err", err)
	}
}

func (m *Monitor) clearErrors() {
	m.mu.Lock()
	m.status.ConsecutiveErrors = 0
	m.status.LastError = ""
	m.mu.Unlock()
}

// Status returns a copy of the current monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SubscribeBlocks subscribes to discovery events. The subscription is closed
// with the monitor.
func (m *Monitor) SubscribeBlocks(ch chan BlockEvent) event.Subscription {
	return m.scope.Track(m.feed.Subscribe(ch))
}

// Close stops polling and waits for the loop to exit.
func (m *Monitor) Close() {
	m.cancel()
	m.scope.Close()
	m.goes.Wait()

	m.mu.Lock()
	if m.status.State == StateRunning || m.status.State == StateCreated {
		m.status.State = StateStopped
	}
	m.mu.Unlock()
	logger.Info("monitor closed")
}

func stakeString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
