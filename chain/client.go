// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/stellar/go/xdr"
)

// Client is a JSON-RPC 2.0 client for the Soroban RPC methods the pooler consumes.
// The generic geth rpc client is no use here: it encodes params positionally while
// Soroban RPC expects a named params object.
type Client struct {
	url string
	hc  *http.Client

	reqID        atomic.Uint64
	latestLedger atomic.Uint32
}

// NewClient creates a client for the RPC endpoint at url.
func NewClient(url string) *Client {
	return NewClientWithHTTP(url, &http.Client{Timeout: 10 * time.Second})
}

// NewClientWithHTTP creates a client with a caller-supplied http.Client.
func NewClientWithHTTP(url string, hc *http.Client) *Client {
	return &Client{url: url, hc: hc}
}

// URL returns the RPC endpoint.
func (c *Client) URL() string { return c.url }

// LatestLedger returns the newest ledger sequence observed on any call, zero before
// the first successful call.
func (c *Client) LatestLedger() uint32 { return c.latestLedger.Load() }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func (c *Client) call(ctx context.Context, method string, params, result any) (err error) {
	started := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metricRPCRequests().AddWithLabel(1, map[string]string{"method": method, "result": outcome})
		metricRPCRoundtripMs().Observe(time.Since(started).Milliseconds())
	}()

	body, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return errors.WithMessage(err, method)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	if res.StatusCode/100 != 2 {
		return errors.Errorf("%s: http %d: %s", method, res.StatusCode, bytes.TrimSpace(resBody))
	}

	var rpcRes rpcResponse
	if err := json.Unmarshal(resBody, &rpcRes); err != nil {
		return errors.Wrap(err, "unmarshal response")
	}
	if rpcRes.Error != nil {
		return errors.WithMessage(rpcRes.Error, method)
	}
	if result != nil {
		if err := json.Unmarshal(rpcRes.Result, result); err != nil {
			return errors.Wrapf(err, "unmarshal %s result", method)
		}
	}
	return nil
}

// LedgerEntry is one entry of a getLedgerEntries response.
type LedgerEntry struct {
	KeyXDR             string `json:"key"`
	DataXDR            string `json:"xdr"`
	LastModifiedLedger uint32 `json:"lastModifiedLedgerSeq"`
	LiveUntilLedger    uint32 `json:"liveUntilLedgerSeq,omitempty"`
}

type ledgerEntriesResult struct {
	Entries      []LedgerEntry `json:"entries"`
	LatestLedger uint32        `json:"latestLedger"`
}

// GetLedgerEntries fetches ledger entries by their base64 XDR keys. Keys without a
// live entry are simply absent from the result.
func (c *Client) GetLedgerEntries(ctx context.Context, keys []string) ([]LedgerEntry, error) {
	params := struct {
		Keys []string `json:"keys"`
	}{Keys: keys}

	var result ledgerEntriesResult
	if err := c.call(ctx, "getLedgerEntries", &params, &result); err != nil {
		return nil, errors.WithMessage(err, "unable to retrieve ledger entries")
	}
	c.latestLedger.Store(result.LatestLedger)
	return result.Entries, nil
}

// InvocationResult is the per-invocation slice of a simulation response.
type InvocationResult struct {
	AuthXDR   []string `json:"auth"`
	ReturnXDR string   `json:"xdr"`
}

// SimulationResult is the subset of a simulateTransaction response needed to
// assemble and fee a Soroban transaction.
type SimulationResult struct {
	TransactionDataXDR string             `json:"transactionData"`
	MinResourceFee     int64              `json:"minResourceFee,string"`
	Results            []InvocationResult `json:"results"`
	Error              string             `json:"error,omitempty"`
	LatestLedger       uint32             `json:"latestLedger"`
}

// SimulateTransaction runs a preflight for the base64 XDR envelope. A contract-level
// failure is reported in the result's Error field, not as a call error.
func (c *Client) SimulateTransaction(ctx context.Context, txXDR string) (*SimulationResult, error) {
	params := struct {
		Transaction string `json:"transaction"`
	}{Transaction: txXDR}

	var result SimulationResult
	if err := c.call(ctx, "simulateTransaction", &params, &result); err != nil {
		return nil, errors.WithMessage(err, "unable to simulate transaction")
	}
	c.latestLedger.Store(result.LatestLedger)
	return &result, nil
}

// AccountSequence returns the current sequence number of the account.
func (c *Client) AccountSequence(ctx context.Context, address string) (int64, error) {
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return 0, errors.Wrap(err, "parse account address")
	}
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, errors.Wrap(err, "marshal account key")
	}

	entries, err := c.GetLedgerEntries(ctx, []string{keyB64})
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, errors.Errorf("account %s missing on ledger", address)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(entries[0].DataXDR, &data); err != nil {
		return 0, errors.Wrap(err, "decode account entry")
	}
	if data.Type != xdr.LedgerEntryTypeAccount || data.Account == nil {
		return 0, errors.Errorf("unexpected entry type %v for account", data.Type)
	}
	return int64(data.Account.SeqNum), nil
}
