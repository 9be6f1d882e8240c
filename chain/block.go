// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package chain

import (
	"encoding/hex"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stellar/go/xdr"
)

// BlockRecord is the farm block metadata the contract keeps in temporary storage
// under Vec[Sym("Block"), U32(index)]. Symbol keys the decoder does not know are
// skipped so contract upgrades that add fields stay readable.
type BlockRecord struct {
	Index     uint32
	Timestamp *uint64 // unix seconds; nil when the entry carries none
	Entropy   [32]byte
	MinGap    uint32
	MaxGap    uint32
	MinStake  *uint256.Int
	MaxStake  *uint256.Int
	MinZeros  uint32
	MaxZeros  uint32
}

// EntropyHex returns the entropy as 64 lowercase hex characters.
func (b *BlockRecord) EntropyHex() string {
	return hex.EncodeToString(b.Entropy[:])
}

// Age returns the block age in seconds at now. A missing or future timestamp
// yields zero.
func (b *BlockRecord) Age(now time.Time) uint64 {
	if b.Timestamp == nil {
		return 0
	}
	ts := int64(*b.Timestamp)
	if ts >= now.Unix() {
		return 0
	}
	return uint64(now.Unix() - ts)
}

func decodeBlockRecord(index uint32, val xdr.ScVal) (*BlockRecord, error) {
	if val.Type != xdr.ScValTypeScvMap || val.Map == nil || *val.Map == nil {
		return nil, errors.Errorf("block %d: expected map storage, got %v", index, val.Type)
	}

	rec := &BlockRecord{Index: index}
	for _, entry := range **val.Map {
		if entry.Key.Type != xdr.ScValTypeScvSymbol || entry.Key.Sym == nil {
			continue
		}
		name := string(*entry.Key.Sym)

		var err error
		switch name {
		case "timestamp":
			var ts uint64
			if ts, err = scU64(entry.Val); err == nil {
				rec.Timestamp = &ts
			}
		case "entropy":
			err = scBytes32(entry.Val, &rec.Entropy)
		case "min_gap":
			rec.MinGap, err = scU32(entry.Val)
		case "max_gap":
			rec.MaxGap, err = scU32(entry.Val)
		case "min_stake":
			rec.MinStake, err = scI128(entry.Val)
		case "max_stake":
			rec.MaxStake, err = scI128(entry.Val)
		case "min_zeros":
			rec.MinZeros, err = scZeros(entry.Val)
		case "max_zeros":
			rec.MaxZeros, err = scZeros(entry.Val)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "block %d: field %s", index, name)
		}
	}

	if rec.MinStake == nil {
		rec.MinStake = uint256.NewInt(0)
	}
	if rec.MaxStake == nil {
		rec.MaxStake = uint256.NewInt(0)
	}
	return rec, nil
}

func scU32(v xdr.ScVal) (uint32, error) {
	if v.Type != xdr.ScValTypeScvU32 || v.U32 == nil {
		return 0, errors.Errorf("expected u32, got %v", v.Type)
	}
	return uint32(*v.U32), nil
}

func scU64(v xdr.ScVal) (uint64, error) {
	if v.Type != xdr.ScValTypeScvU64 || v.U64 == nil {
		return 0, errors.Errorf("expected u64, got %v", v.Type)
	}
	return uint64(*v.U64), nil
}

func scBytes32(v xdr.ScVal, out *[32]byte) error {
	if v.Type != xdr.ScValTypeScvBytes || v.Bytes == nil {
		return errors.Errorf("expected bytes, got %v", v.Type)
	}
	raw := *v.Bytes
	if len(raw) != 32 {
		return errors.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return nil
}

// scZeros decodes a zero-count, bounded by the 64 hex digits of a hash.
func scZeros(v xdr.ScVal) (uint32, error) {
	n, err := scU32(v)
	if err != nil {
		return 0, err
	}
	if n > 64 {
		return 0, errors.Errorf("zero count %d out of range", n)
	}
	return n, nil
}

// scI128 decodes a non-negative i128 amount.
func scI128(v xdr.ScVal) (*uint256.Int, error) {
	if v.Type != xdr.ScValTypeScvI128 || v.I128 == nil {
		return nil, errors.Errorf("expected i128, got %v", v.Type)
	}
	parts := *v.I128
	if parts.Hi < 0 {
		return nil, errors.New("negative amount")
	}
	out := new(uint256.Int).SetUint64(uint64(parts.Hi))
	out.Lsh(out, 64)
	return out.Or(out, new(uint256.Int).SetUint64(uint64(parts.Lo))), nil
}
