// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package miner supervises the external hash-search binary. The search is
// CPU-bound, so at most one child process is alive per pooler; callers queue
// on a single-slot semaphore.
package miner

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var logger = log.New("pkg", "miner")

const defaultTimeout = 5 * time.Minute

// Job is one hash-search assignment: argv for the external binary.
type Job struct {
	FarmerHex  string // 64 lowercase hex chars, the farmer's raw ed25519 public key
	BlockIndex uint32
	EntropyHex string // 64 hex chars
	NonceCount uint64
}

// Output is the parsed terminal line of a successful search.
type Output struct {
	Nonce   uint64
	Hash    [32]byte
	HashHex string
	Zeros   uint32 // leading '0' hex characters of HashHex
}

// Runner runs the hash-search binary with a hard wall-clock deadline.
type Runner struct {
	path    string
	timeout time.Duration
	slot    *semaphore.Weighted

	mu      sync.Mutex
	current *exec.Cmd
}

// New creates a Runner for the binary at path. A non-positive timeout selects
// the 5 minute default.
func New(path string, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Runner{
		path:    path,
		timeout: timeout,
		slot:    semaphore.NewWeighted(1),
	}
}

// Run executes one search. It blocks while another search holds the slot, then
// spawns the child and waits for exit or deadline. The returned Output is nil
// exactly when no usable proof was produced; the error says why.
func (r *Runner) Run(ctx context.Context, job Job) (*Output, error) {
	if err := r.slot.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire miner slot")
	}
	defer r.slot.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.path,
		job.FarmerHex,
		strconv.FormatUint(uint64(job.BlockIndex), 10),
		job.EntropyHex,
		strconv.FormatUint(job.NonceCount, 10),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.mu.Lock()
	r.current = cmd
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	logger.Debug("miner starting", "block", job.BlockIndex, "nonceCount", job.NonceCount)
	started := mclock.Now()
	err := cmd.Run()
	elapsed := time.Duration(mclock.Now() - started)
	metricMinerRunMs().Observe(elapsed.Milliseconds())

	if runCtx.Err() == context.DeadlineExceeded {
		metricMinerRuns().AddWithLabel(1, map[string]string{"result": "timeout"})
		return nil, errors.Errorf("miner timed out after %v; stderr: %s", r.timeout, tail(stderr.Bytes()))
	}
	if err != nil {
		metricMinerRuns().AddWithLabel(1, map[string]string{"result": "error"})
		return nil, errors.Errorf("miner failed: %v; stderr: %s", err, tail(stderr.Bytes()))
	}

	out, err := parseOutput(stdout.Bytes())
	if err != nil {
		metricMinerRuns().AddWithLabel(1, map[string]string{"result": "unparseable"})
		return nil, errors.WithMessagef(err, "miner output (stderr: %s)", tail(stderr.Bytes()))
	}

	metricMinerRuns().AddWithLabel(1, map[string]string{"result": "ok"})
	logger.Debug("miner finished",
		"block", job.BlockIndex, "nonce", out.Nonce, "zeros", out.Zeros,
		"elapsed", common.PrettyDuration(elapsed))
	return out, nil
}

// Running reports whether a child process is currently alive.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil
}

// KillCurrent kills the live child, if any. The in-flight Run returns an error.
// Used by the emergency stop and by shutdown.
func (r *Runner) KillCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.Process != nil {
		logger.Warn("killing live miner child", "pid", r.current.Process.Pid)
		r.current.Process.Kill()
	}
}

// parseOutput reads the final non-empty stdout line as the two-element JSON
// array [nonce, "hashHex"].
func parseOutput(stdout []byte) (*Output, error) {
	line := lastNonEmptyLine(stdout)
	if line == "" {
		return nil, errors.New("no result line on stdout")
	}

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(line), &parts); err != nil {
		return nil, errors.Wrapf(err, "malformed result line %q", line)
	}
	if len(parts) != 2 {
		return nil, errors.Errorf("result line has %d elements, want 2", len(parts))
	}

	var nonce uint64
	if err := json.Unmarshal(parts[0], &nonce); err != nil {
		return nil, errors.Wrap(err, "decode nonce")
	}
	var hashHex string
	if err := json.Unmarshal(parts[1], &hashHex); err != nil {
		return nil, errors.Wrap(err, "decode hash")
	}

	raw, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, errors.Wrap(err, "decode hash hex")
	}
	if len(raw) != 32 {
		return nil, errors.Errorf("hash is %d bytes, want 32", len(raw))
	}

	out := &Output{
		Nonce:   nonce,
		HashHex: hashHex,
		Zeros:   leadingZeros(hashHex),
	}
	copy(out.Hash[:], raw)
	return out, nil
}

func lastNonEmptyLine(b []byte) string {
	var last []byte
	for _, line := range bytes.Split(b, []byte("\n")) {
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			last = trimmed
		}
	}
	return string(last)
}

func leadingZeros(hexStr string) uint32 {
	var n uint32
	for _, c := range hexStr {
		if c != '0' {
			break
		}
		n++
	}
	return n
}

// tail caps stderr diagnostics carried inside error messages.
func tail(b []byte) string {
	const limit = 300
	b = bytes.TrimSpace(b)
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
