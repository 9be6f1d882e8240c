// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	portFlag = cli.IntFlag{
		Name:   "port",
		Value:  3001,
		Usage:  "inbound API service listening port",
		EnvVar: "POOLER_PORT",
	}
	poolerIDFlag = cli.StringFlag{
		Name:   "pooler-id",
		Usage:  "pooler identity reported to the backend",
		EnvVar: "POOLER_ID",
	}
	authTokenFlag = cli.StringFlag{
		Name:   "auth-token",
		Usage:  "bearer token guarding /backend/planted-farmers",
		EnvVar: "POOLER_AUTH_TOKEN",
	}
	rpcURLFlag = cli.StringFlag{
		Name:   "rpc-url",
		Usage:  "Soroban JSON-RPC endpoint",
		EnvVar: "RPC_URL",
	}
	contractIDFlag = cli.StringFlag{
		Name:   "contract-id",
		Usage:  "KALE farming contract address (C...)",
		EnvVar: "CONTRACT_ID",
	}
	networkPassphraseFlag = cli.StringFlag{
		Name:   "network-passphrase",
		Usage:  "network passphrase transactions are signed against",
		EnvVar: "NETWORK_PASSPHRASE",
	}
	backendURLFlag = cli.StringFlag{
		Name:   "backend-url",
		Usage:  "backend API base URL",
		EnvVar: "BACKEND_API_URL",
	}
	backendTimeoutFlag = cli.Uint64Flag{
		Name:   "backend-timeout",
		Value:  30000,
		Usage:  "backend HTTP timeout in milliseconds",
		EnvVar: "BACKEND_TIMEOUT",
	}
	launchtubeURLFlag = cli.StringFlag{
		Name:   "launchtube-url",
		Usage:  "launchtube relay endpoint",
		EnvVar: "LAUNCHTUBE_URL",
	}
	launchtubeJWTFlag = cli.StringFlag{
		Name:   "launchtube-jwt",
		Usage:  "launchtube bearer token",
		EnvVar: "LAUNCHTUBE_JWT",
	}
	minerPathFlag = cli.StringFlag{
		Name:   "miner-path",
		Usage:  "path to the hash-search binary",
		EnvVar: "MINER_PATH",
	}
	blockPollIntervalFlag = cli.Uint64Flag{
		Name:   "block-poll-interval",
		Value:  5000,
		Usage:  "farm index poll period in milliseconds",
		EnvVar: "BLOCK_POLL_INTERVAL_MS",
	}
	initialCheckDelayFlag = cli.Uint64Flag{
		Name:   "initial-block-check-delay",
		Value:  10000,
		Usage:  "delay before the first poll in milliseconds",
		EnvVar: "INITIAL_BLOCK_CHECK_DELAY_MS",
	}
	maxErrorCountFlag = cli.IntFlag{
		Name:   "max-error-count",
		Value:  10,
		Usage:  "consecutive chain errors before the monitor halts",
		EnvVar: "MAX_ERROR_COUNT",
	}
	maxMissedBlocksFlag = cli.Uint64Flag{
		Name:   "max-missed-blocks",
		Value:  5,
		Usage:  "block index jump treated as missed blocks",
		EnvVar: "MAX_MISSED_BLOCKS",
	}
	retryAttemptsFlag = cli.IntFlag{
		Name:   "retry-attempts",
		Value:  3,
		Usage:  "relay submission attempts per work proof",
		EnvVar: "RETRY_ATTEMPTS",
	}
	plantDelayFlag = cli.Uint64Flag{
		Name:   "plant-delay",
		Value:  30000,
		Usage:  "minimum block age before it is plantable, milliseconds",
		EnvVar: "PLANT_DELAY_MS",
	}
	workDelayFlag = cli.Uint64Flag{
		Name:   "work-delay",
		Value:  150000,
		Usage:  "offset from block timestamp to work start, milliseconds",
		EnvVar: "WORK_DELAY_MS",
	}
	harvestDelayFlag = cli.Uint64Flag{
		Name:   "harvest-delay",
		Value:  30000,
		Usage:  "harvest offset carried for backend parity, milliseconds",
		EnvVar: "HARVEST_DELAY_MS",
	}
	minerTimeoutFlag = cli.Uint64Flag{
		Name:   "miner-timeout",
		Value:  300000,
		Usage:  "wall clock limit per miner run, milliseconds",
		EnvVar: "MINER_TIMEOUT_MS",
	}
	nonceCountFlag = cli.Uint64Flag{
		Name:   "nonce-count",
		Value:  10000000,
		Usage:  "nonce search width per miner run",
		EnvVar: "NONCE_COUNT",
	}
	maxRecoveryAttemptsFlag = cli.IntFlag{
		Name:   "max-recovery-attempts",
		Value:  3,
		Usage:  "extra miner runs after a failed one",
		EnvVar: "MAX_RECOVERY_ATTEMPTS",
	}
	verbosityFlag = cli.IntFlag{
		Name:   "verbosity",
		Value:  3,
		Usage:  "log verbosity (0-5)",
		EnvVar: "VERBOSITY",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:   "json-logs",
		Usage:  "output logs in JSON format",
		EnvVar: "JSON_LOGS",
	}
	apiCorsFlag = cli.StringFlag{
		Name:   "api-cors",
		Value:  "*",
		Usage:  "comma separated list of domains from which to accept cross origin requests to API",
		EnvVar: "API_CORS",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:   "enable-metrics",
		Usage:  "enables metrics collection",
		EnvVar: "ENABLE_METRICS",
	}
	metricsAddrFlag = cli.StringFlag{
		Name:   "metrics-addr",
		Value:  "localhost:2112",
		Usage:  "metrics service listening address",
		EnvVar: "METRICS_ADDR",
	}
	enableAdminFlag = cli.BoolFlag{
		Name:   "enable-admin",
		Usage:  "enables admin server",
		EnvVar: "ENABLE_ADMIN",
	}
	adminAddrFlag = cli.StringFlag{
		Name:   "admin-addr",
		Value:  "localhost:2113",
		Usage:  "admin service listening address",
		EnvVar: "ADMIN_ADDR",
	}
	enableAPILogsFlag = cli.BoolFlag{
		Name:   "enable-api-logs",
		Usage:  "enables API requests logging",
		EnvVar: "ENABLE_REQUEST_LOGS",
	}
	skipClockCheckFlag = cli.BoolFlag{
		Name:   "skip-clock-check",
		Usage:  "skip the NTP clock offset probe at startup",
		EnvVar: "SKIP_CLOCK_CHECK",
	}
)
