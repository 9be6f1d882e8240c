// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package work

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/miner"
	"github.com/kalepool/pooler/relay"
)

type minerReply struct {
	out *miner.Output
	err error
}

// fakeMiner serves scripted run outcomes; the last reply repeats. It also
// satisfies MinerControl for coordinator tests.
type fakeMiner struct {
	delay time.Duration

	mu      sync.Mutex
	replies []minerReply
	jobs    []miner.Job
	live    bool
	killed  int
}

func (f *fakeMiner) Run(ctx context.Context, job miner.Job) (*miner.Output, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	f.live = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.live = false
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "miner failed")
		case <-time.After(f.delay):
		}
	}
	return r.out, r.err
}

func (f *fakeMiner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeMiner) KillCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed++
}

func (f *fakeMiner) jobCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func (f *fakeMiner) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type submitReply struct {
	receipt *relay.Receipt
	err     error
}

type submitCall struct {
	address string
	hash    [32]byte
	nonce   uint64
}

// fakeSubmitter serves scripted submission outcomes; the last reply repeats.
type fakeSubmitter struct {
	mu      sync.Mutex
	replies []submitReply
	calls   []submitCall
}

func (f *fakeSubmitter) SubmitWork(_ context.Context, farmer *keypair.Full, hash [32]byte, nonce uint64) (*relay.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{address: farmer.Address(), hash: hash, nonce: nonce})
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r.receipt, r.err
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func acceptAll() *fakeSubmitter {
	return &fakeSubmitter{replies: []submitReply{{receipt: &relay.Receipt{Hash: "TX", Attempts: 1}}}}
}

func minedOutput(nonce uint64, zeros int) *miner.Output {
	hexStr := strings.Repeat("0", zeros) + strings.Repeat("a", 64-zeros)
	raw, _ := hex.DecodeString(hexStr)
	out := &miner.Output{Nonce: nonce, HashHex: hexStr, Zeros: uint32(zeros)}
	copy(out.Hash[:], raw)
	return out
}

func testFarmer(t *testing.T, id string) (Farmer, *keypair.Full) {
	t.Helper()
	kp := keypair.MustRandom()
	return Farmer{
		ID:              id,
		CustodialWallet: kp.Address(),
		CustodialSecret: kp.Seed(),
		StakeAmount:     "1000000000",
	}, kp
}

func pastBatch(farmers ...Farmer) *Batch {
	return &Batch{
		BlockIndex:     123,
		EntropyHex:     strings.Repeat("ef", 32),
		BlockTimestamp: uint64(time.Now().Add(-time.Hour).Unix()),
		Farmers:        farmers,
	}
}

func fastScheduler(m Miner, s Submitter) *Scheduler {
	return NewScheduler(m, s, SchedulerOptions{WorkDelay: time.Millisecond})
}

func TestScheduleHappyBatch(t *testing.T) {
	f1, kp1 := testFarmer(t, "F1")
	f2, _ := testFarmer(t, "F2")

	m := &fakeMiner{replies: []minerReply{
		{out: minedOutput(12345, 6)},
		{out: minedOutput(67890, 5)},
	}}
	sub := &fakeSubmitter{replies: []submitReply{
		{receipt: &relay.Receipt{Hash: "AAA", Attempts: 1}},
		{receipt: &relay.Receipt{Hash: "BBB", Attempts: 3}},
	}}

	result := fastScheduler(m, sub).Schedule(context.Background(), pastBatch(f1, f2))

	require.False(t, result.Aborted)
	require.Len(t, result.Results, 2)

	r1 := result.Results[0]
	assert.Equal(t, "F1", r1.FarmerID)
	assert.Equal(t, f1.CustodialWallet, r1.CustodialWallet)
	assert.Equal(t, backend.StatusSuccess, r1.Status)
	require.NotNil(t, r1.Nonce)
	assert.Equal(t, uint64(12345), *r1.Nonce)
	require.NotNil(t, r1.Zeros)
	assert.Equal(t, uint32(6), *r1.Zeros)
	assert.Equal(t, "AAA", r1.TxHash)
	assert.Equal(t, 1, r1.Attempts)
	assert.Nil(t, r1.Gap)
	assert.False(t, r1.CompensationRequired)
	assert.Empty(t, r1.Error)

	r2 := result.Results[1]
	assert.Equal(t, "F2", r2.FarmerID)
	assert.Equal(t, backend.StatusSuccess, r2.Status)
	assert.Equal(t, "BBB", r2.TxHash)

	// miner got the farmer's raw public key and the configured range
	raw, err := strkey.Decode(strkey.VersionByteAccountID, kp1.Address())
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(raw), m.jobs[0].FarmerHex)
	assert.Equal(t, uint64(10_000_000), m.jobs[0].NonceCount)
	assert.Equal(t, strings.Repeat("ef", 32), m.jobs[0].EntropyHex)

	// submission carried the mined proof
	assert.Equal(t, kp1.Address(), sub.calls[0].address)
	assert.Equal(t, uint64(12345), sub.calls[0].nonce)

	assert.Equal(t, result.TotalWorkTime, r1.WorkTime+r2.WorkTime)
}

func TestScheduleWaitsForWorkWindow(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}

	s := NewScheduler(m, acceptAll(), SchedulerOptions{WorkDelay: 1500 * time.Millisecond})
	batch := pastBatch(f)
	batch.BlockTimestamp = uint64(time.Now().Unix())
	target := s.WorkStart(batch)

	result := s.Schedule(context.Background(), batch)

	assert.False(t, result.Aborted)
	assert.False(t, time.Now().Before(target), "schedule returned before the work window opened")
	assert.GreaterOrEqual(t, time.Since(result.Started), 400*time.Millisecond)
}

func TestScheduleAbortsDuringWait(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}

	s := NewScheduler(m, acceptAll(), SchedulerOptions{WorkDelay: time.Hour})
	batch := pastBatch(f)
	batch.BlockTimestamp = uint64(time.Now().Unix())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result := s.Schedule(ctx, batch)

	assert.True(t, result.Aborted)
	assert.Empty(t, result.Results)
	assert.Zero(t, m.jobCount())
}

func TestScheduleRunsImmediatelyWithoutTimestamp(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}

	// default 150s delay must not apply when the timestamp is unknown
	s := NewScheduler(m, acceptAll(), SchedulerOptions{})
	batch := pastBatch(f)
	batch.BlockTimestamp = 0

	start := time.Now()
	result := s.Schedule(context.Background(), batch)

	assert.False(t, result.Aborted)
	assert.Len(t, result.Results, 1)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSubmissionFailureIsTerminal(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(777, 5)}}}
	sub := &fakeSubmitter{replies: []submitReply{
		{err: &relay.SimulationError{Message: "Error(Contract, #7)"}},
	}}

	result := fastScheduler(m, sub).Schedule(context.Background(), pastBatch(f))

	require.Len(t, result.Results, 1)
	r := result.Results[0]
	assert.Equal(t, backend.StatusFailed, r.Status)
	assert.Equal(t, 1, r.Attempts)
	assert.True(t, r.CompensationRequired)
	assert.Contains(t, r.Error, "submission")
	assert.Contains(t, r.Error, "Error(Contract, #7)")

	// the proof diagnostics survive the failure
	require.NotNil(t, r.Nonce)
	assert.Equal(t, uint64(777), *r.Nonce)
	assert.NotEmpty(t, r.Hash)
	assert.Empty(t, r.TxHash)

	// no recovery for submission failures
	assert.Equal(t, 1, m.jobCount())
	assert.Equal(t, 1, sub.callCount())
}

func TestRecoveryAfterMinerFailure(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{
		{err: errors.New("miner timed out after 5m0s")},
		{out: minedOutput(42, 4)},
	}}

	result := fastScheduler(m, acceptAll()).Schedule(context.Background(), pastBatch(f))

	require.Len(t, result.Results, 1)
	r := result.Results[0]
	assert.Equal(t, backend.StatusRecovered, r.Status)
	assert.Equal(t, 2, r.Attempts)
	assert.False(t, r.CompensationRequired)
	assert.Equal(t, "TX", r.TxHash)

	require.Equal(t, 2, m.jobCount())
	assert.Equal(t, uint64(10_000_000), m.jobs[0].NonceCount)
	assert.Equal(t, uint64(11_000_000), m.jobs[1].NonceCount)
}

func TestRecoveryExhausted(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{err: errors.New("miner failed: exit status 1")}}}
	sub := acceptAll()

	result := fastScheduler(m, sub).Schedule(context.Background(), pastBatch(f))

	require.Len(t, result.Results, 1)
	r := result.Results[0]
	assert.Equal(t, backend.StatusFailed, r.Status)
	assert.Equal(t, 4, r.Attempts)
	assert.True(t, r.CompensationRequired)
	assert.Contains(t, r.Error, "exit status 1")
	assert.Nil(t, r.Nonce)

	require.Equal(t, 4, m.jobCount())
	assert.Equal(t, uint64(13_000_000), m.jobs[3].NonceCount)
	assert.Zero(t, sub.callCount())
}

func TestRecoveryRetriesFailedSubmission(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{
		{err: errors.New("miner timed out")},
		{out: minedOutput(1, 4)},
		{out: minedOutput(2, 4)},
	}}
	sub := &fakeSubmitter{replies: []submitReply{
		{err: errors.New("relay rejected: http 504: upstream timeout")},
		{receipt: &relay.Receipt{Hash: "CCC", Attempts: 2}},
	}}

	result := fastScheduler(m, sub).Schedule(context.Background(), pastBatch(f))

	require.Len(t, result.Results, 1)
	r := result.Results[0]
	assert.Equal(t, backend.StatusRecovered, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, "CCC", r.TxHash)
	assert.Equal(t, 2, sub.callCount())
	assert.Equal(t, 3, m.jobCount())
}

func TestBadSecretFailsWithoutMining(t *testing.T) {
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}
	batch := pastBatch(Farmer{ID: "F1", CustodialWallet: "GAAA", CustodialSecret: "not-a-seed"})

	result := fastScheduler(m, acceptAll()).Schedule(context.Background(), batch)

	require.Len(t, result.Results, 1)
	r := result.Results[0]
	assert.Equal(t, backend.StatusFailed, r.Status)
	assert.Zero(t, r.Attempts)
	assert.True(t, r.CompensationRequired)
	assert.Contains(t, r.Error, "parse custodial secret")
	assert.Zero(t, m.jobCount())
}

func TestWalletKeyMismatchFailsWithoutMining(t *testing.T) {
	_, kp := testFarmer(t, "F1")
	other, _ := testFarmer(t, "F2")

	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}
	batch := pastBatch(Farmer{ID: "F1", CustodialWallet: other.CustodialWallet, CustodialSecret: kp.Seed()})

	result := fastScheduler(m, acceptAll()).Schedule(context.Background(), batch)

	r := result.Results[0]
	assert.Equal(t, backend.StatusFailed, r.Status)
	assert.Zero(t, r.Attempts)
	assert.Contains(t, r.Error, "does not match wallet")
	assert.Zero(t, m.jobCount())
}

func TestScheduleFallsBackToZeroEntropy(t *testing.T) {
	f, _ := testFarmer(t, "F1")
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(1, 4)}}}

	batch := pastBatch(f)
	batch.EntropyHex = ""
	fastScheduler(m, acceptAll()).Schedule(context.Background(), batch)

	require.Equal(t, 1, m.jobCount())
	assert.Equal(t, strings.Repeat("0", 64), m.jobs[0].EntropyHex)
}

func TestSchedulePreservesFarmerOrder(t *testing.T) {
	var farmers []Farmer
	for _, id := range []string{"F1", "F2", "F3"} {
		f, _ := testFarmer(t, id)
		farmers = append(farmers, f)
	}
	m := &fakeMiner{replies: []minerReply{{out: minedOutput(9, 4)}}}

	result := fastScheduler(m, acceptAll()).Schedule(context.Background(), pastBatch(farmers...))

	require.Len(t, result.Results, 3)
	for i, id := range []string{"F1", "F2", "F3"} {
		assert.Equal(t, id, result.Results[i].FarmerID)
	}
}
