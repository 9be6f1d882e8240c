// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package relay

import (
	"strings"

	"github.com/pkg/errors"
)

// SimulationError is a contract-level failure reported by the preflight.
// It is terminal: re-relaying the same invocation cannot succeed.
type SimulationError struct {
	Message string
}

func (e *SimulationError) Error() string {
	return "simulation failed: " + e.Message
}

// IsSimulationError reports whether err has a SimulationError in its cause chain.
func IsSimulationError(err error) bool {
	var simErr *SimulationError
	return errors.As(err, &simErr)
}

// retryTokens mark transient transport conditions worth another attempt.
// Soroban RPC and Launchtube surface them inside error message text.
var retryTokens = []string{
	"not_found",
	"timeout",
	"econnreset",
	"enotfound",
	"etimedout",
	"fetch failed",
	"network error",
}

// Retryable classifies err by message, case-insensitively. Simulation errors are
// never retryable regardless of text.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsSimulationError(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, token := range retryTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
