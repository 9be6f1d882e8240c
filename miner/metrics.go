// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package miner

import "github.com/kalepool/pooler/metrics"

var (
	metricMinerRuns  = metrics.LazyLoadCounterVec("miner_run_count", []string{"result"})
	metricMinerRunMs = metrics.LazyLoadHistogram("miner_run_duration_ms", metrics.BucketMinerRuns)
)
