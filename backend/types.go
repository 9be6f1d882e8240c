// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

// Work result statuses as reported to the Backend.
const (
	StatusSuccess   = "success"
	StatusRecovered = "recovered"
	StatusFailed    = "failed"
)

// BlockDiscovery is the body of a poll-loop discovery notification.
// Event and PoolerID are stamped by the client.
type BlockDiscovery struct {
	Event      string            `json:"event"`
	PoolerID   string            `json:"poolerId"`
	BlockIndex uint32            `json:"blockIndex"`
	BlockData  BlockData         `json:"blockData"`
	Metadata   DiscoveryMetadata `json:"metadata"`
}

// BlockData mirrors the on-chain block record, stakes as decimal strings.
type BlockData struct {
	Index     uint32 `json:"index"`
	Timestamp string `json:"timestamp"` // RFC3339 UTC
	Entropy   string `json:"entropy"`   // 64 hex chars
	BlockAge  int64  `json:"blockAge"`  // seconds
	Plantable bool   `json:"plantable"`
	MinStake  string `json:"min_stake"`
	MaxStake  string `json:"max_stake"`
	MinZeros  uint32 `json:"min_zeros"`
	MaxZeros  uint32 `json:"max_zeros"`
	MinGap    uint32 `json:"min_gap"`
	MaxGap    uint32 `json:"max_gap"`
}

type DiscoveryMetadata struct {
	DiscoveredAt          string `json:"discoveredAt"`
	PoolerUptime          int64  `json:"poolerUptime"` // ms
	TotalBlocksDiscovered uint64 `json:"totalBlocksDiscovered"`
}

// StartupBlock is the flat notification sent when the process starts against
// a block young enough to still be plantable. Source and PoolerID are stamped
// by the client.
type StartupBlock struct {
	PoolerID       string `json:"poolerId"`
	BlockIndex     uint32 `json:"blockIndex"`
	Entropy        string `json:"entropy"`
	BlockTimestamp uint64 `json:"blockTimestamp"` // unix seconds
	BlockAge       int64  `json:"blockAge"`       // seconds
	DiscoveredAt   string `json:"discoveredAt"`
	Source         string `json:"source"`
}

// WorkReport is the work-completion body for one block's batch.
// PoolerID is stamped by the client.
type WorkReport struct {
	BlockIndex  uint32       `json:"blockIndex"`
	PoolerID    string       `json:"poolerId"`
	WorkResults []WorkResult `json:"workResults"`
	Summary     WorkSummary  `json:"summary"`
}

// WorkResult is one farmer's outcome. Gap is carried as an explicit null until
// a derivation rule for it exists downstream.
type WorkResult struct {
	FarmerID             string  `json:"farmerId"`
	CustodialWallet      string  `json:"custodialWallet"`
	Status               string  `json:"status"`
	Nonce                *uint64 `json:"nonce,omitempty"`
	Hash                 string  `json:"hash,omitempty"`
	Zeros                *uint32 `json:"zeros,omitempty"`
	Gap                  *uint32 `json:"gap"`
	WorkTime             int64   `json:"workTime"` // ms
	Attempts             int     `json:"attempts"`
	TxHash               string  `json:"txHash,omitempty"`
	Error                string  `json:"error,omitempty"`
	CompensationRequired bool    `json:"compensationRequired"`
}

// WorkSummary aggregates a batch. SuccessfulWork counts success and recovered.
type WorkSummary struct {
	TotalFarmers   int    `json:"totalFarmers"`
	SuccessfulWork int    `json:"successfulWork"`
	FailedWork     int    `json:"failedWork"`
	TotalWorkTime  int64  `json:"totalWorkTime"` // ms
	Timestamp      string `json:"timestamp"`
}
