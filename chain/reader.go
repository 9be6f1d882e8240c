// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package chain

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// farmIndexKey is the instance-storage symbol holding the current block index.
const farmIndexKey = "FarmIndex"

// Reader reads the farm contract's storage through a Client.
type Reader struct {
	client     *Client
	contract   xdr.ScAddress
	contractID string
}

// NewReader creates a reader bound to the C... contract id.
func NewReader(client *Client, contractID string) (*Reader, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return nil, errors.Wrap(err, "parse contract id")
	}
	var hash xdr.Hash
	copy(hash[:], raw)

	return &Reader{
		client:     client,
		contract:   xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &hash},
		contractID: contractID,
	}, nil
}

// ContractID returns the bound contract id.
func (r *Reader) ContractID() string { return r.contractID }

// Snapshot couples the current farm index with its block record.
type Snapshot struct {
	Index uint32
	Block *BlockRecord // nil when the block entry is missing or expired
}

// Snapshot reads the farm index and the block it points at.
func (r *Reader) Snapshot(ctx context.Context) (*Snapshot, error) {
	index, err := r.FarmIndex(ctx)
	if err != nil {
		return nil, err
	}
	block, err := r.Block(ctx, index)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Index: index, Block: block}, nil
}

// FarmIndex reads the current block index from contract instance storage.
// A missing instance entry or index key reads as zero: the farm has not started.
func (r *Reader) FarmIndex(ctx context.Context) (uint32, error) {
	keyB64, err := r.instanceKey()
	if err != nil {
		return 0, errors.Wrap(err, "marshal instance key")
	}

	entries, err := r.client.GetLedgerEntries(ctx, []string{keyB64})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(entries[0].DataXDR, &data); err != nil {
		return 0, errors.Wrap(err, "decode contract instance entry")
	}
	if data.Type != xdr.LedgerEntryTypeContractData || data.ContractData == nil {
		return 0, errors.Errorf("unexpected entry type %v for contract instance", data.Type)
	}
	inst := data.ContractData.Val
	if inst.Type != xdr.ScValTypeScvContractInstance || inst.Instance == nil {
		return 0, errors.Errorf("expected contract instance value, got %v", inst.Type)
	}
	if inst.Instance.Storage == nil {
		return 0, nil
	}

	for _, entry := range *inst.Instance.Storage {
		if entry.Key.Type != xdr.ScValTypeScvSymbol || entry.Key.Sym == nil {
			continue
		}
		if string(*entry.Key.Sym) != farmIndexKey {
			continue
		}
		if entry.Val.Type != xdr.ScValTypeScvU32 || entry.Val.U32 == nil {
			return 0, errors.Errorf("farm index: expected u32, got %v", entry.Val.Type)
		}
		return uint32(*entry.Val.U32), nil
	}
	return 0, nil
}

// Block reads the block record at index from temporary storage. Entries expire
// with the ledger's TTL rules, so (nil, nil) means missing, not broken.
func (r *Reader) Block(ctx context.Context, index uint32) (*BlockRecord, error) {
	keyB64, err := r.blockKey(index)
	if err != nil {
		return nil, errors.Wrap(err, "marshal block key")
	}

	entries, err := r.client.GetLedgerEntries(ctx, []string{keyB64})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(entries[0].DataXDR, &data); err != nil {
		return nil, errors.Wrapf(err, "decode block %d entry", index)
	}
	if data.Type != xdr.LedgerEntryTypeContractData || data.ContractData == nil {
		return nil, errors.Errorf("unexpected entry type %v for block %d", data.Type, index)
	}
	return decodeBlockRecord(index, data.ContractData.Val)
}

func (r *Reader) instanceKey() (string, error) {
	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   r.contract,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
	return xdr.MarshalBase64(key)
}

func (r *Reader) blockKey(index uint32) (string, error) {
	sym := xdr.ScSymbol("Block")
	idx := xdr.Uint32(index)
	vec := xdr.ScVec{
		{Type: xdr.ScValTypeScvSymbol, Sym: &sym},
		{Type: xdr.ScValTypeScvU32, U32: &idx},
	}
	vecPtr := &vec

	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   r.contract,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvVec, Vec: &vecPtr},
			Durability: xdr.ContractDataDurabilityTemporary,
		},
	}
	return xdr.MarshalBase64(key)
}
