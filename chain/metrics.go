// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package chain

import (
	"github.com/kalepool/pooler/metrics"
)

var (
	metricRPCRequests    = metrics.LazyLoadCounterVec("chain_rpc_request_count", []string{"method", "result"})
	metricRPCRoundtripMs = metrics.LazyLoadHistogram("chain_rpc_roundtrip_ms", metrics.BucketHTTPReqs)
)
