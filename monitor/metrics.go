// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package monitor

import "github.com/kalepool/pooler/metrics"

var (
	metricPolls          = metrics.LazyLoadCounter("monitor_poll_count")
	metricPollErrors     = metrics.LazyLoadCounter("monitor_poll_error_count")
	metricDiscovered     = metrics.LazyLoadCounter("monitor_block_discovered_count")
	metricReorgs         = metrics.LazyLoadCounter("monitor_reorg_count")
	metricNotifyFailures = metrics.LazyLoadCounter("monitor_notify_failure_count")
	metricFarmIndex      = metrics.LazyLoadGauge("monitor_farm_index")
)
