// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package relay

import (
	"github.com/kalepool/pooler/metrics"
)

var metricSubmissions = metrics.LazyLoadCounterVec("relay_submission_count", []string{"result"})

var metricRelayRoundtripMs = metrics.LazyLoadHistogram("relay_roundtrip_ms", metrics.BucketHTTPReqs)
