// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/chain"
)

type indexReply struct {
	index uint32
	err   error
}

// fakeChain serves a scripted sequence of farm-index reads; the last entry
// repeats forever. Block records come from the blocks map.
type fakeChain struct {
	mu        sync.Mutex
	script    []indexReply
	blocks    map[uint32]*chain.BlockRecord
	blockErrs map[uint32]error
}

func (f *fakeChain) next() indexReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return r
}

func (f *fakeChain) FarmIndex(_ context.Context) (uint32, error) {
	r := f.next()
	return r.index, r.err
}

func (f *fakeChain) Block(_ context.Context, index uint32) (*chain.BlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.blockErrs[index]; err != nil {
		return nil, err
	}
	return f.blocks[index], nil
}

func (f *fakeChain) Snapshot(ctx context.Context) (*chain.Snapshot, error) {
	index, err := f.FarmIndex(ctx)
	if err != nil {
		return nil, err
	}
	block, err := f.Block(ctx, index)
	if err != nil {
		return nil, err
	}
	return &chain.Snapshot{Index: index, Block: block}, nil
}

type fakeNotifier struct {
	mu          sync.Mutex
	discovered  []*backend.BlockDiscovery
	startups    []*backend.StartupBlock
	failNext    int // NotifyBlockDiscovered failures to serve before accepting
	startupErr  error
	notifyCalls int
}

func (f *fakeNotifier) NotifyBlockDiscovered(_ context.Context, d *backend.BlockDiscovery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyCalls++
	if f.failNext > 0 {
		f.failNext--
		return errors.New("backend /pooler/block-discovered: http 502")
	}
	f.discovered = append(f.discovered, d)
	return nil
}

func (f *fakeNotifier) NotifyStartupBlock(_ context.Context, s *backend.StartupBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startupErr != nil {
		return f.startupErr
	}
	f.startups = append(f.startups, s)
	return nil
}

func (f *fakeNotifier) discoveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.discovered)
}

func (f *fakeNotifier) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifyCalls
}

func fastOptions() Options {
	return Options{
		PollInterval: 5 * time.Millisecond,
		InitialDelay: time.Millisecond,
	}
}

func blockAt(ts time.Time) *chain.BlockRecord {
	sec := uint64(ts.Unix())
	rec := &chain.BlockRecord{
		Timestamp: &sec,
		MinGap:    15,
		MaxGap:    60,
		MinZeros:  4,
		MaxZeros:  9,
		MinStake:  uint256.NewInt(0),
		MaxStake:  uint256.NewInt(250_000_000_000),
	}
	copy(rec.Entropy[:], []byte(strings.Repeat("x", 32)))
	return rec
}

func startMonitor(t *testing.T, source ChainSource, notifier Notifier, opts Options) *Monitor {
	t.Helper()
	m := New(source, notifier, opts)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)
	return m
}

func TestStartFailsWithoutChain(t *testing.T) {
	source := &fakeChain{script: []indexReply{{err: errors.New("connection refused")}}}
	m := New(source, &fakeNotifier{}, fastOptions())

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial chain snapshot")
	assert.Equal(t, StateCreated, m.Status().State)
	m.Close()
}

func TestDiscoveryAdvancesCursor(t *testing.T) {
	block := blockAt(time.Now().Add(-35 * time.Second))
	block.Index = 101
	source := &fakeChain{
		script: []indexReply{{index: 100}, {index: 101}},
		blocks: map[uint32]*chain.BlockRecord{101: block},
	}
	notifier := &fakeNotifier{}

	m := New(source, notifier, fastOptions())
	ch := make(chan BlockEvent, 1)
	sub := m.SubscribeBlocks(ch)
	defer sub.Unsubscribe()

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Close)

	require.Eventually(t, func() bool { return notifier.discoveredCount() == 1 }, time.Second, time.Millisecond)

	d := notifier.discovered[0]
	assert.Equal(t, uint32(101), d.BlockIndex)
	assert.Equal(t, uint32(101), d.BlockData.Index)
	assert.True(t, d.BlockData.Plantable)
	assert.Equal(t, "250000000000", d.BlockData.MaxStake)
	assert.Equal(t, "0", d.BlockData.MinStake)
	assert.Len(t, d.BlockData.Entropy, 64)
	assert.Equal(t, uint64(1), d.Metadata.TotalBlocksDiscovered)

	select {
	case ev := <-ch:
		assert.Equal(t, uint32(101), ev.Index)
		assert.True(t, ev.Plantable)
	case <-time.After(time.Second):
		t.Fatal("no block event published")
	}

	status := m.Status()
	assert.Equal(t, uint32(101), status.Cursor)
	assert.Equal(t, uint64(1), status.TotalDiscovered)
	assert.Equal(t, StateRunning, status.State)

	// index stays at 101: no further notifications
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, notifier.discoveredCount())
}

func TestRegressionMovesCursorWithoutNotifying(t *testing.T) {
	source := &fakeChain{script: []indexReply{{index: 101}, {index: 99}}}
	notifier := &fakeNotifier{}

	m := startMonitor(t, source, notifier, fastOptions())

	require.Eventually(t, func() bool {
		st := m.Status()
		return st.Cursor == 99 && st.Reorgs == 1
	}, time.Second, time.Millisecond)

	assert.Zero(t, notifier.calls())
	assert.Equal(t, StateRunning, m.Status().State)
}

func TestHaltsAtErrorCeiling(t *testing.T) {
	source := &fakeChain{script: []indexReply{{index: 100}, {err: errors.New("rpc down")}}}
	notifier := &fakeNotifier{}

	opts := fastOptions()
	opts.MaxErrors = 3
	m := startMonitor(t, source, notifier, opts)

	require.Eventually(t, func() bool { return m.Status().State == StateHalted }, time.Second, time.Millisecond)

	st := m.Status()
	assert.Equal(t, 3, st.ConsecutiveErrors)
	assert.Contains(t, st.LastError, "rpc down")

	// the loop exits on halt: polling stops
	polls := m.Status().TotalPolls
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, m.Status().TotalPolls)
}

func TestChainRecoveryResetsErrorCount(t *testing.T) {
	source := &fakeChain{script: []indexReply{
		{index: 100},
		{err: errors.New("rpc down")},
		{err: errors.New("rpc down")},
		{index: 100},
	}}

	opts := fastOptions()
	opts.MaxErrors = 5
	m := startMonitor(t, source, &fakeNotifier{}, opts)

	require.Eventually(t, func() bool {
		st := m.Status()
		return st.TotalPolls >= 4 && st.ConsecutiveErrors == 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, m.Status().State)
}

func TestNotifyFailureDoesNotAdvanceCursor(t *testing.T) {
	block := blockAt(time.Now().Add(-35 * time.Second))
	source := &fakeChain{
		script: []indexReply{{index: 100}, {index: 101}},
		blocks: map[uint32]*chain.BlockRecord{101: block},
	}
	notifier := &fakeNotifier{failNext: 2}

	opts := fastOptions()
	opts.MaxErrors = 3 // must not be consumed by backend failures
	m := startMonitor(t, source, notifier, opts)

	require.Eventually(t, func() bool { return notifier.discoveredCount() == 1 }, time.Second, time.Millisecond)

	// two refusals then one delivery, cursor only moved on delivery
	assert.Equal(t, 3, notifier.calls())
	st := m.Status()
	assert.Equal(t, uint32(101), st.Cursor)
	assert.Equal(t, StateRunning, st.State)
	assert.Zero(t, st.ConsecutiveErrors)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, notifier.calls(), "no re-notification after success")
}

func TestBlockReadErrorCountsTowardCeiling(t *testing.T) {
	source := &fakeChain{
		script:    []indexReply{{index: 100}, {index: 101}},
		blockErrs: map[uint32]error{101: errors.New("decode block 101 entry")},
	}

	opts := fastOptions()
	opts.MaxErrors = 2
	m := startMonitor(t, source, &fakeNotifier{}, opts)

	require.Eventually(t, func() bool { return m.Status().State == StateHalted }, time.Second, time.Millisecond)
	assert.Equal(t, uint32(100), m.Status().Cursor)
}

func TestMissingBlockRecordStillNotifies(t *testing.T) {
	source := &fakeChain{script: []indexReply{{index: 100}, {index: 101}}}
	notifier := &fakeNotifier{}

	m := startMonitor(t, source, notifier, fastOptions())

	require.Eventually(t, func() bool { return notifier.discoveredCount() == 1 }, time.Second, time.Millisecond)

	d := notifier.discovered[0]
	assert.Equal(t, strings.Repeat("0", 64), d.BlockData.Entropy)
	assert.Zero(t, d.BlockData.BlockAge)
	assert.False(t, d.BlockData.Plantable)
	assert.NotEmpty(t, d.BlockData.Timestamp)
}

func TestStartupShortcutNotifiesYoungBlock(t *testing.T) {
	block := blockAt(time.Now().Add(-40 * time.Second))
	source := &fakeChain{
		script: []indexReply{{index: 100}, {index: 99}, {index: 100}},
		blocks: map[uint32]*chain.BlockRecord{100: block},
	}
	notifier := &fakeNotifier{}

	m := startMonitor(t, source, notifier, fastOptions())

	require.Len(t, notifier.startups, 1)
	s := notifier.startups[0]
	assert.Equal(t, uint32(100), s.BlockIndex)
	assert.Equal(t, *block.Timestamp, s.BlockTimestamp)
	assert.InDelta(t, 40, s.BlockAge, 2)

	// regress to 99, then re-advance to 100: already notified, no POST
	require.Eventually(t, func() bool {
		st := m.Status()
		return st.Reorgs == 1 && st.Cursor == 100
	}, time.Second, time.Millisecond)
	assert.Zero(t, notifier.calls())
}

func TestStartupShortcutSkipsOldBlock(t *testing.T) {
	block := blockAt(time.Now().Add(-200 * time.Second))
	source := &fakeChain{
		script: []indexReply{{index: 100}},
		blocks: map[uint32]*chain.BlockRecord{100: block},
	}
	notifier := &fakeNotifier{}

	startMonitor(t, source, notifier, fastOptions())
	assert.Empty(t, notifier.startups)
}

func TestStartupShortcutFailureIsNotFatal(t *testing.T) {
	block := blockAt(time.Now().Add(-10 * time.Second))
	source := &fakeChain{
		script: []indexReply{{index: 100}},
		blocks: map[uint32]*chain.BlockRecord{100: block},
	}
	notifier := &fakeNotifier{startupErr: errors.New("backend down")}

	m := startMonitor(t, source, notifier, fastOptions())
	assert.Equal(t, StateRunning, m.Status().State)
	assert.Empty(t, notifier.startups)
}

func TestCloseStopsPolling(t *testing.T) {
	source := &fakeChain{script: []indexReply{{index: 100}}}
	m := New(source, &fakeNotifier{}, fastOptions())
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.Status().TotalPolls > 0 }, time.Second, time.Millisecond)
	m.Close()

	assert.Equal(t, StateStopped, m.Status().State)
	polls := m.Status().TotalPolls
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, m.Status().TotalPolls)
}
