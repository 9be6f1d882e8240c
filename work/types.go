// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package work turns planting notifications into mined, submitted and reported
// proofs: the scheduler runs one block's farmers through the miner and relay,
// the coordinator owns batch lifecycles.
package work

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

var logger = log.New("pkg", "work")

// Notification is the planting outcome the Backend delivers for one block.
type Notification struct {
	BlockIndex     uint32
	EntropyHex     string // 64 hex chars; empty means unknown, worked as zero entropy
	BlockTimestamp uint64 // block's on-chain unix seconds; 0 when unknown
	Farmers        []Farmer
}

// Farmer is one planted farmer with its custodial signing key.
type Farmer struct {
	ID              string
	CustodialWallet string // G... address
	CustodialSecret string // S... seed
	StakeAmount     string
}

// Batch is the unit the scheduler processes.
type Batch struct {
	BlockIndex     uint32
	EntropyHex     string
	BlockTimestamp uint64
	Farmers        []Farmer
}

// ValidationError marks a notification the coordinator refuses to process.
// The inbound API acknowledges these with an "ignored" status instead of
// failing the request.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "invalid planting notification: " + e.Reason
}

// IsValidationError reports whether err is a notification validation refusal.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	Pending          []uint32 // blocks waiting for their work window
	Active           []uint32 // blocks currently being worked
	MinerRunning     bool
	BatchesCompleted uint64
	LastCompletedAt  time.Time // zero until the first completed batch
	Draining         bool
}

func (n *Notification) validate() error {
	if len(n.Farmers) == 0 {
		return ValidationError{Reason: "no farmers"}
	}
	for i, f := range n.Farmers {
		switch {
		case f.ID == "":
			return ValidationError{Reason: "farmer " + strconv.Itoa(i) + " has no id"}
		case f.CustodialWallet == "":
			return ValidationError{Reason: "farmer " + f.ID + " has no custodial wallet"}
		case f.CustodialSecret == "":
			return ValidationError{Reason: "farmer " + f.ID + " has no custodial secret"}
		}
	}
	switch len(n.EntropyHex) {
	case 0:
		// tolerated: worked as zero entropy
	case 64:
		if _, err := hex.DecodeString(n.EntropyHex); err != nil {
			return ValidationError{Reason: "entropy is not hex"}
		}
	default:
		return ValidationError{Reason: "entropy must be 64 hex chars"}
	}
	return nil
}
