// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package relay builds, simulates and signs the `work` contract invocation and
// hands the signed envelope to a Launchtube relay for on-chain submission.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"

	"github.com/kalepool/pooler/chain"
)

var logger = log.New("pkg", "relay")

const (
	// baseInclusionFee is the classic fee in stroops; simulation adds resources on top.
	baseInclusionFee = 100
	// txValidity bounds how long a signed envelope stays submittable.
	txValidity = 5 * time.Minute

	clientName = "kale-pooler"
)

// workFunction is the contract entry the pooler invokes: work(farmer, hash, nonce).
const workFunction = "work"

// Options tune a Submitter. Zero values fall back to the defaults the relay
// contract expects: 3 attempts, 2s fixed backoff.
type Options struct {
	Attempts      int
	Backoff       time.Duration
	ClientVersion string
	HTTP          *http.Client
}

// Receipt is the relay's acknowledgement of a submitted work proof.
type Receipt struct {
	Hash     string // transaction hash reported by the relay; may be empty
	Attempts int    // total attempts consumed, retries included
}

// Submitter turns a mined (hash, nonce) pair into an on-chain work call. It
// simulates against the chain RPC, signs with the farmer's custodial key and
// relays the envelope through Launchtube.
type Submitter struct {
	client     *chain.Client
	contract   xdr.ScAddress
	passphrase string

	relayURL string
	relayJWT string

	attempts      int
	backoff       time.Duration
	clientVersion string
	hc            *http.Client
}

// NewSubmitter creates a Submitter for the C... contract id on the network
// identified by passphrase, relaying through relayURL.
func NewSubmitter(client *chain.Client, contractID, passphrase, relayURL, relayJWT string, opts Options) (*Submitter, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return nil, errors.Wrap(err, "parse contract id")
	}
	var hash xdr.Hash
	copy(hash[:], raw)

	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	return &Submitter{
		client:        client,
		contract:      xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &hash},
		passphrase:    passphrase,
		relayURL:      relayURL,
		relayJWT:      relayJWT,
		attempts:      opts.Attempts,
		backoff:       opts.Backoff,
		clientVersion: opts.ClientVersion,
		hc:            opts.HTTP,
	}, nil
}

// SubmitWork submits work(farmer, hash, nonce) signed by the farmer keypair.
// Transient transport failures are retried with fixed backoff; simulation
// failures and other terminal errors return immediately.
func (s *Submitter) SubmitWork(ctx context.Context, farmer *keypair.Full, hash [32]byte, nonce uint64) (*Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		receipt, err := s.submitOnce(ctx, farmer, hash, nonce)
		if err == nil {
			receipt.Attempts = attempt
			metricSubmissions().AddWithLabel(1, map[string]string{"result": "success"})
			return receipt, nil
		}
		lastErr = err

		if !Retryable(err) {
			metricSubmissions().AddWithLabel(1, map[string]string{"result": "terminal"})
			return nil, err
		}
		logger.Warn("work submission failed, will retry",
			"farmer", farmer.Address(), "attempt", attempt, "max", s.attempts, "err", err)

		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
	metricSubmissions().AddWithLabel(1, map[string]string{"result": "exhausted"})
	return nil, errors.WithMessagef(lastErr, "submission not accepted after %d attempts", s.attempts)
}

func (s *Submitter) submitOnce(ctx context.Context, farmer *keypair.Full, hash [32]byte, nonce uint64) (*Receipt, error) {
	seq, err := s.client.AccountSequence(ctx, farmer.Address())
	if err != nil {
		return nil, errors.WithMessage(err, "fetch farmer sequence")
	}

	env, err := s.buildEnvelope(farmer.Address(), seq+1, hash, nonce)
	if err != nil {
		return nil, errors.Wrap(err, "build envelope")
	}

	unsignedB64, err := xdr.MarshalBase64(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal unsigned envelope")
	}
	sim, err := s.client.SimulateTransaction(ctx, unsignedB64)
	if err != nil {
		return nil, err
	}
	if sim.Error != "" {
		// contract-level refusal; resubmitting the same invocation cannot help
		return nil, &SimulationError{Message: sim.Error}
	}
	if err := applySimulation(env, sim); err != nil {
		return nil, err
	}

	txHash, err := network.HashTransactionInEnvelope(*env, s.passphrase)
	if err != nil {
		return nil, errors.Wrap(err, "hash envelope")
	}
	sig, err := farmer.SignDecorated(txHash[:])
	if err != nil {
		return nil, errors.Wrap(err, "sign envelope")
	}
	env.V1.Signatures = []xdr.DecoratedSignature{sig}

	signedB64, err := xdr.MarshalBase64(env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal signed envelope")
	}
	return s.relayPost(ctx, signedB64)
}

// buildEnvelope assembles the unsigned V1 envelope carrying a single
// InvokeHostFunction operation. Resources and auth come later from simulation.
func (s *Submitter) buildEnvelope(address string, seq int64, hash [32]byte, nonce uint64) (*xdr.TransactionEnvelope, error) {
	source, err := xdr.AddressToMuxedAccount(address)
	if err != nil {
		return nil, errors.Wrap(err, "parse source account")
	}
	accountID, err := xdr.AddressToAccountId(address)
	if err != nil {
		return nil, errors.Wrap(err, "parse farmer account")
	}

	hashBytes := xdr.ScBytes(hash[:])
	nonceVal := xdr.Uint64(nonce)
	args := []xdr.ScVal{
		{Type: xdr.ScValTypeScvAddress, Address: &xdr.ScAddress{
			Type:      xdr.ScAddressTypeScAddressTypeAccount,
			AccountId: &accountID,
		}},
		{Type: xdr.ScValTypeScvBytes, Bytes: &hashBytes},
		{Type: xdr.ScValTypeScvU64, U64: &nonceVal},
	}

	op := xdr.Operation{
		Body: xdr.OperationBody{
			Type: xdr.OperationTypeInvokeHostFunction,
			InvokeHostFunctionOp: &xdr.InvokeHostFunctionOp{
				HostFunction: xdr.HostFunction{
					Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
					InvokeContract: &xdr.InvokeContractArgs{
						ContractAddress: s.contract,
						FunctionName:    workFunction,
						Args:            args,
					},
				},
			},
		},
	}

	tx := xdr.Transaction{
		SourceAccount: source,
		Fee:           xdr.Uint32(baseInclusionFee),
		SeqNum:        xdr.SequenceNumber(seq),
		Cond: xdr.Preconditions{
			Type: xdr.PreconditionTypePrecondTime,
			TimeBounds: &xdr.TimeBounds{
				MinTime: 0,
				MaxTime: xdr.TimePoint(time.Now().Add(txValidity).Unix()),
			},
		},
		Memo:       xdr.Memo{Type: xdr.MemoTypeMemoNone},
		Operations: []xdr.Operation{op},
		Ext:        xdr.TransactionExt{V: 0},
	}
	return &xdr.TransactionEnvelope{
		Type: xdr.EnvelopeTypeEnvelopeTypeTx,
		V1:   &xdr.TransactionV1Envelope{Tx: tx},
	}, nil
}

// applySimulation folds preflight results into the envelope: soroban resources,
// the resource fee and any required auth entries.
func applySimulation(env *xdr.TransactionEnvelope, sim *chain.SimulationResult) error {
	if sim.TransactionDataXDR != "" {
		var data xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionDataXDR, &data); err != nil {
			return errors.Wrap(err, "decode simulated transaction data")
		}
		env.V1.Tx.Ext = xdr.TransactionExt{V: 1, SorobanData: &data}
	}
	env.V1.Tx.Fee = xdr.Uint32(int64(baseInclusionFee) + sim.MinResourceFee)

	if len(sim.Results) > 0 && len(sim.Results[0].AuthXDR) > 0 {
		auth := make([]xdr.SorobanAuthorizationEntry, 0, len(sim.Results[0].AuthXDR))
		for _, raw := range sim.Results[0].AuthXDR {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(raw, &entry); err != nil {
				return errors.Wrap(err, "decode simulated auth entry")
			}
			auth = append(auth, entry)
		}
		env.V1.Tx.Operations[0].Body.InvokeHostFunctionOp.Auth = auth
	}
	return nil
}

// relayPost delivers the signed envelope as the single multipart field "xdr".
func (s *Submitter) relayPost(ctx context.Context, signedB64 string) (*Receipt, error) {
	started := time.Now()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	field, err := form.CreateFormField("xdr")
	if err != nil {
		return nil, errors.Wrap(err, "create form field")
	}
	if _, err := field.Write([]byte(signedB64)); err != nil {
		return nil, errors.Wrap(err, "write form field")
	}
	if err := form.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, &body)
	if err != nil {
		return nil, errors.Wrap(err, "create relay request")
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.relayJWT)
	req.Header.Set("X-Client-Name", clientName)
	req.Header.Set("X-Client-Version", s.clientVersion)

	res, err := s.hc.Do(req)
	if err != nil {
		return nil, errors.WithMessage(err, "relay post")
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read relay response")
	}
	metricRelayRoundtripMs().Observe(time.Since(started).Milliseconds())

	if res.StatusCode/100 != 2 {
		return nil, errors.Errorf("relay: http %d: %s", res.StatusCode, excerpt(resBody))
	}

	var ack struct {
		Hash            string `json:"hash"`
		TransactionHash string `json:"transactionHash"`
	}
	if err := json.Unmarshal(resBody, &ack); err != nil {
		logger.Debug("relay response not parseable, submission still counted", "err", err)
	}
	hash := ack.Hash
	if hash == "" {
		hash = ack.TransactionHash
	}
	return &Receipt{Hash: hash}, nil
}

// excerpt caps diagnostic bodies so a misbehaving relay cannot flood the logs.
func excerpt(b []byte) string {
	const limit = 300
	b = bytes.TrimSpace(b)
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
