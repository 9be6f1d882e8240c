// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"time"

	cli "gopkg.in/urfave/cli.v1"
)

// config carries everything the daemon needs, resolved from flags and
// environment variables.
type config struct {
	Port              int
	PoolerID          string
	AuthToken         string
	RPCURL            string
	ContractID        string
	NetworkPassphrase string

	BackendURL     string
	BackendTimeout time.Duration

	LaunchtubeURL string
	LaunchtubeJWT string
	RetryAttempts int

	MinerPath           string
	MinerTimeout        time.Duration
	NonceCount          uint64
	MaxRecoveryAttempts int

	PollInterval      time.Duration
	InitialCheckDelay time.Duration
	MaxErrorCount     int
	MaxMissedBlocks   uint32

	PlantDelay   time.Duration
	WorkDelay    time.Duration
	HarvestDelay time.Duration

	APICors string
}

func loadConfig(ctx *cli.Context) *config {
	cfg := &config{
		Port:              ctx.Int(portFlag.Name),
		PoolerID:          ctx.String(poolerIDFlag.Name),
		AuthToken:         ctx.String(authTokenFlag.Name),
		RPCURL:            ctx.String(rpcURLFlag.Name),
		ContractID:        ctx.String(contractIDFlag.Name),
		NetworkPassphrase: ctx.String(networkPassphraseFlag.Name),

		BackendURL:     ctx.String(backendURLFlag.Name),
		BackendTimeout: time.Duration(ctx.Uint64(backendTimeoutFlag.Name)) * time.Millisecond,

		LaunchtubeURL: ctx.String(launchtubeURLFlag.Name),
		LaunchtubeJWT: ctx.String(launchtubeJWTFlag.Name),
		RetryAttempts: ctx.Int(retryAttemptsFlag.Name),

		MinerPath:           ctx.String(minerPathFlag.Name),
		MinerTimeout:        time.Duration(ctx.Uint64(minerTimeoutFlag.Name)) * time.Millisecond,
		NonceCount:          ctx.Uint64(nonceCountFlag.Name),
		MaxRecoveryAttempts: ctx.Int(maxRecoveryAttemptsFlag.Name),

		PollInterval:      time.Duration(ctx.Uint64(blockPollIntervalFlag.Name)) * time.Millisecond,
		InitialCheckDelay: time.Duration(ctx.Uint64(initialCheckDelayFlag.Name)) * time.Millisecond,
		MaxErrorCount:     ctx.Int(maxErrorCountFlag.Name),
		MaxMissedBlocks:   uint32(ctx.Uint64(maxMissedBlocksFlag.Name)),

		PlantDelay:   time.Duration(ctx.Uint64(plantDelayFlag.Name)) * time.Millisecond,
		WorkDelay:    time.Duration(ctx.Uint64(workDelayFlag.Name)) * time.Millisecond,
		HarvestDelay: time.Duration(ctx.Uint64(harvestDelayFlag.Name)) * time.Millisecond,

		APICors: ctx.String(apiCorsFlag.Name),
	}

	required := []struct {
		value string
		flag  cli.StringFlag
	}{
		{cfg.PoolerID, poolerIDFlag},
		{cfg.AuthToken, authTokenFlag},
		{cfg.RPCURL, rpcURLFlag},
		{cfg.ContractID, contractIDFlag},
		{cfg.NetworkPassphrase, networkPassphraseFlag},
		{cfg.BackendURL, backendURLFlag},
		{cfg.LaunchtubeURL, launchtubeURLFlag},
		{cfg.LaunchtubeJWT, launchtubeJWTFlag},
		{cfg.MinerPath, minerPathFlag},
	}
	for _, r := range required {
		if r.value == "" {
			fatal(fmt.Sprintf("missing required config, set -%v or %v", r.flag.Name, r.flag.EnvVar))
		}
	}

	if _, err := os.Stat(cfg.MinerPath); err != nil {
		fatal(fmt.Sprintf("miner binary [%v]: %v", cfg.MinerPath, err))
	}
	return cfg
}
