// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package plantings

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kalepool/pooler/work"
)

// The Backend emits snake_case from its database layer and camelCase from its
// API layer, depending on the code path. Every field is declared under both
// names and folded in normalize, first spelling wins.

// flexUint32 accepts a JSON number or a numeric string.
type flexUint32 uint32

func (f *flexUint32) UnmarshalJSON(data []byte) error {
	v, err := parseFlexUint(data, math.MaxUint32)
	if err != nil {
		return err
	}
	*f = flexUint32(v)
	return nil
}

// flexUint64 accepts a JSON number or a numeric string.
type flexUint64 uint64

func (f *flexUint64) UnmarshalJSON(data []byte) error {
	v, err := parseFlexUint(data, math.MaxUint64)
	if err != nil {
		return err
	}
	*f = flexUint64(v)
	return nil
}

func parseFlexUint(data []byte, max uint64) (uint64, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, err
	}
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, errors.Errorf("not a non-negative integer: %v", v)
		}
		if v > float64(max) {
			return 0, errors.Errorf("out of range: %v", v)
		}
		return uint64(v), nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, errors.Errorf("not a non-negative integer: %q", v)
		}
		if n > max {
			return 0, errors.Errorf("out of range: %q", v)
		}
		return n, nil
	default:
		return 0, errors.Errorf("not a number: %s", string(data))
	}
}

// flexString accepts a JSON string or number and keeps the decimal text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
	case string:
		*f = flexString(v)
	case float64:
		*f = flexString(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return errors.Errorf("not a string or number: %s", string(data))
	}
	return nil
}

type farmerBody struct {
	FarmerID  string `json:"farmer_id"`
	FarmerID2 string `json:"farmerId"`

	CustodialWallet  string `json:"custodial_wallet"`
	CustodialWallet2 string `json:"custodialWallet"`

	CustodialSecret  string `json:"custodial_secret_key"`
	CustodialSecret2 string `json:"custodialSecretKey"`

	StakeAmount  *flexString `json:"stake_amount"`
	StakeAmount2 *flexString `json:"stakeAmount"`
}

type blockDataBody struct {
	Entropy string `json:"entropy"`

	Timestamp  *flexUint64 `json:"timestamp"`
	Timestamp2 *flexUint64 `json:"block_timestamp"`
	Timestamp3 *flexUint64 `json:"blockTimestamp"`
}

type notificationBody struct {
	BlockIndex  *flexUint32 `json:"block_index"`
	BlockIndex2 *flexUint32 `json:"blockIndex"`

	PoolerID  string `json:"pooler_id"`
	PoolerID2 string `json:"poolerId"`

	SuccessfulPlants  *flexUint32 `json:"successful_plants"`
	SuccessfulPlants2 *flexUint32 `json:"successfulPlants"`

	FailedPlants  *flexUint32 `json:"failed_plants"`
	FailedPlants2 *flexUint32 `json:"failedPlants"`

	Farmers  []farmerBody `json:"planted_farmers"`
	Farmers2 []farmerBody `json:"plantedFarmers"`

	BlockData  *blockDataBody `json:"block_data"`
	BlockData2 *blockDataBody `json:"blockData"`

	BlockTimestamp  *flexUint64 `json:"block_timestamp"`
	BlockTimestamp2 *flexUint64 `json:"blockTimestamp"`

	Entropy string `json:"entropy"`
}

func coalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceUint64(values ...*flexUint64) uint64 {
	for _, v := range values {
		if v != nil {
			return uint64(*v)
		}
	}
	return 0
}

// normalize folds the alias pairs into a Notification. The block index is the
// only hard requirement here; everything else is validated downstream.
func (b *notificationBody) normalize() (*work.Notification, error) {
	var index *flexUint32
	switch {
	case b.BlockIndex != nil:
		index = b.BlockIndex
	case b.BlockIndex2 != nil:
		index = b.BlockIndex2
	default:
		return nil, errors.New("block index missing")
	}

	n := &work.Notification{
		BlockIndex: uint32(*index),
	}

	farmers := b.Farmers
	if len(farmers) == 0 {
		farmers = b.Farmers2
	}
	for _, f := range farmers {
		stake := ""
		if f.StakeAmount != nil {
			stake = string(*f.StakeAmount)
		} else if f.StakeAmount2 != nil {
			stake = string(*f.StakeAmount2)
		}
		n.Farmers = append(n.Farmers, work.Farmer{
			ID:              coalesceString(f.FarmerID, f.FarmerID2),
			CustodialWallet: coalesceString(f.CustodialWallet, f.CustodialWallet2),
			CustodialSecret: coalesceString(f.CustodialSecret, f.CustodialSecret2),
			StakeAmount:     stake,
		})
	}

	data := b.BlockData
	if data == nil {
		data = b.BlockData2
	}
	if data != nil {
		n.EntropyHex = data.Entropy
		n.BlockTimestamp = coalesceUint64(data.Timestamp, data.Timestamp2, data.Timestamp3)
	}
	if n.EntropyHex == "" {
		n.EntropyHex = b.Entropy
	}
	if n.BlockTimestamp == 0 {
		n.BlockTimestamp = coalesceUint64(b.BlockTimestamp, b.BlockTimestamp2)
	}
	return n, nil
}
