// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package work

import "github.com/kalepool/pooler/metrics"

var (
	metricFarmerResults    = metrics.LazyLoadCounterVec("work_farmer_result_count", []string{"status"})
	metricRecoveries       = metrics.LazyLoadCounter("work_recovery_attempt_count")
	metricBatchesCompleted = metrics.LazyLoadCounter("work_batch_completed_count")
	metricPendingBatches   = metrics.LazyLoadGauge("work_pending_batches")
	metricActiveBatches    = metrics.LazyLoadGauge("work_active_batches")
	metricWorkTimeMs       = metrics.LazyLoadHistogram("work_farmer_duration_ms", metrics.BucketMinerRuns)
)
