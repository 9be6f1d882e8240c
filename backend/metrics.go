// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package backend

import "github.com/kalepool/pooler/metrics"

var (
	metricPosts       = metrics.LazyLoadCounterVec("backend_post_count", []string{"path", "result"})
	metricRoundtripMs = metrics.LazyLoadHistogram("backend_roundtrip_ms", metrics.BucketHTTPReqs)
)
