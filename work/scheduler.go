// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package work

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/pkg/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"

	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/miner"
	"github.com/kalepool/pooler/relay"
)

// Miner runs one hash search. Implemented by miner.Runner.
type Miner interface {
	Run(ctx context.Context, job miner.Job) (*miner.Output, error)
}

// Submitter relays one signed work invocation. Implemented by relay.Submitter.
type Submitter interface {
	SubmitWork(ctx context.Context, farmer *keypair.Full, hash [32]byte, nonce uint64) (*relay.Receipt, error)
}

// SchedulerOptions tunes batch processing. Zero values select the defaults.
type SchedulerOptions struct {
	WorkDelay           time.Duration // offset from block timestamp, default 150s
	NonceCount          uint64        // base search width, default 10_000_000
	MaxRecoveryAttempts int           // extra searches after a failed one, default 3
	RecoveryNonceStep   uint64        // widening per recovery attempt, default 1_000_000
}

func (o *SchedulerOptions) withDefaults() SchedulerOptions {
	out := *o
	if out.WorkDelay <= 0 {
		out.WorkDelay = 150 * time.Second
	}
	if out.NonceCount == 0 {
		out.NonceCount = 10_000_000
	}
	if out.MaxRecoveryAttempts <= 0 {
		out.MaxRecoveryAttempts = 3
	}
	if out.RecoveryNonceStep == 0 {
		out.RecoveryNonceStep = 1_000_000
	}
	return out
}

// Scheduler works one block's farmers in order: wait for the work window, then
// per farmer mine, submit, and classify the outcome.
type Scheduler struct {
	miner     Miner
	submitter Submitter
	opts      SchedulerOptions
}

// NewScheduler creates a Scheduler.
func NewScheduler(m Miner, s Submitter, opts SchedulerOptions) *Scheduler {
	return &Scheduler{miner: m, submitter: s, opts: opts.withDefaults()}
}

// BatchResult is the outcome of one scheduled batch. Results preserve farmer
// order. Aborted batches carry the results collected so far and must not be
// reported.
type BatchResult struct {
	BlockIndex    uint32
	Results       []backend.WorkResult
	TotalWorkTime int64 // ms, summed over farmers
	Started       time.Time
	Finished      time.Time
	Aborted       bool
}

// WorkStart returns the moment the batch's work window opens: block timestamp
// plus the work delay. A zero timestamp opens the window immediately.
func (s *Scheduler) WorkStart(batch *Batch) time.Time {
	if batch.BlockTimestamp == 0 {
		return time.Time{}
	}
	return time.Unix(int64(batch.BlockTimestamp), 0).Add(s.opts.WorkDelay)
}

// Schedule runs the batch to completion or context cancellation.
func (s *Scheduler) Schedule(ctx context.Context, batch *Batch) *BatchResult {
	result := &BatchResult{BlockIndex: batch.BlockIndex, Started: time.Now()}

	if target := s.WorkStart(batch); !target.IsZero() {
		if wait := time.Until(target); wait > 0 {
			logger.Info("waiting for work window",
				"block", batch.BlockIndex, "farmers", len(batch.Farmers), "wait", common.PrettyDuration(wait))
			select {
			case <-ctx.Done():
				result.Aborted = true
				result.Finished = time.Now()
				return result
			case <-time.After(wait):
			}
		}
	}

	for i := range batch.Farmers {
		if ctx.Err() != nil {
			result.Aborted = true
			break
		}
		r := s.workFarmer(ctx, batch, &batch.Farmers[i])
		result.Results = append(result.Results, r)
		result.TotalWorkTime += r.WorkTime
	}
	if ctx.Err() != nil {
		result.Aborted = true
	}
	result.Finished = time.Now()
	return result
}

// workFarmer mines and submits for a single farmer. Attempts counts miner runs.
// A submission failure after a clean first search is terminal: re-mining cannot
// fix a proof the chain or relay refused. A failed search gets recovery runs
// with widened nonce ranges.
func (s *Scheduler) workFarmer(ctx context.Context, batch *Batch, farmer *Farmer) backend.WorkResult {
	started := mclock.Now()
	result := backend.WorkResult{
		FarmerID:        farmer.ID,
		CustodialWallet: farmer.CustodialWallet,
	}

	finish := func(status string, attempts int, err error) backend.WorkResult {
		result.Status = status
		result.Attempts = attempts
		result.WorkTime = time.Duration(mclock.Now() - started).Milliseconds()
		result.CompensationRequired = status == backend.StatusFailed
		if err != nil {
			result.Error = err.Error()
			logger.Warn("farmer work failed",
				"block", batch.BlockIndex, "farmer", farmer.ID, "attempts", attempts, "err", err)
		}
		metricFarmerResults().AddWithLabel(1, map[string]string{"status": status})
		metricWorkTimeMs().Observe(result.WorkTime)
		return result
	}

	kp, err := keypair.ParseFull(farmer.CustodialSecret)
	if err != nil {
		return finish(backend.StatusFailed, 0, errors.Wrap(err, "parse custodial secret"))
	}
	if kp.Address() != farmer.CustodialWallet {
		return finish(backend.StatusFailed, 0,
			errors.Errorf("custodial key does not match wallet %s", farmer.CustodialWallet))
	}
	raw, err := strkey.Decode(strkey.VersionByteAccountID, kp.Address())
	if err != nil {
		return finish(backend.StatusFailed, 0, errors.Wrap(err, "decode farmer address"))
	}

	job := miner.Job{
		FarmerHex:  hex.EncodeToString(raw),
		BlockIndex: batch.BlockIndex,
		EntropyHex: batch.EntropyHex,
		NonceCount: s.opts.NonceCount,
	}
	if job.EntropyHex == "" {
		logger.Warn("no entropy for block, mining against zero entropy", "block", batch.BlockIndex)
		job.EntropyHex = zeroEntropyHex
	}

	out, err := s.miner.Run(ctx, job)
	if out != nil {
		s.noteOutput(&result, out)
		receipt, subErr := s.submitter.SubmitWork(ctx, kp, out.Hash, out.Nonce)
		if subErr == nil {
			result.TxHash = receipt.Hash
			logger.Info("work submitted",
				"block", batch.BlockIndex, "farmer", farmer.ID, "zeros", out.Zeros, "relayAttempts", receipt.Attempts)
			return finish(backend.StatusSuccess, 1, nil)
		}
		return finish(backend.StatusFailed, 1, errors.WithMessage(subErr, "submission"))
	}

	// recovery: widen the search after a failed run
	lastErr := err
	for k := 1; k <= s.opts.MaxRecoveryAttempts; k++ {
		if ctx.Err() != nil {
			return finish(backend.StatusFailed, k, lastErr)
		}
		job.NonceCount = s.opts.NonceCount + uint64(k)*s.opts.RecoveryNonceStep
		logger.Warn("recovery attempt",
			"block", batch.BlockIndex, "farmer", farmer.ID, "attempt", k, "nonceCount", job.NonceCount)
		metricRecoveries().Add(1)

		out, err = s.miner.Run(ctx, job)
		if out == nil {
			lastErr = err
			continue
		}
		s.noteOutput(&result, out)
		receipt, subErr := s.submitter.SubmitWork(ctx, kp, out.Hash, out.Nonce)
		if subErr == nil {
			result.TxHash = receipt.Hash
			logger.Info("work recovered",
				"block", batch.BlockIndex, "farmer", farmer.ID, "attempts", 1+k)
			return finish(backend.StatusRecovered, 1+k, nil)
		}
		lastErr = errors.WithMessage(subErr, "submission")
	}
	return finish(backend.StatusFailed, 1+s.opts.MaxRecoveryAttempts, lastErr)
}

// noteOutput records proof diagnostics so even a failed submission reports
// what was mined.
func (s *Scheduler) noteOutput(result *backend.WorkResult, out *miner.Output) {
	nonce := out.Nonce
	zeros := out.Zeros
	result.Nonce = &nonce
	result.Hash = out.HashHex
	result.Zeros = &zeros
}

const zeroEntropyHex = "0000000000000000000000000000000000000000000000000000000000000000"
