// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/kalepool/pooler/api"
	"github.com/kalepool/pooler/backend"
	"github.com/kalepool/pooler/chain"
	"github.com/kalepool/pooler/cmd/pooler/httpserver"
	"github.com/kalepool/pooler/health"
	"github.com/kalepool/pooler/metrics"
	"github.com/kalepool/pooler/miner"
	"github.com/kalepool/pooler/monitor"
	"github.com/kalepool/pooler/relay"
	"github.com/kalepool/pooler/work"
)

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "kale-pooler",
		Usage:     "Work daemon of the KalePool farming network",
		Copyright: "2025 The KalePool developers <https://github.com/kalepool/pooler>",
		Flags: []cli.Flag{
			portFlag,
			poolerIDFlag,
			authTokenFlag,
			rpcURLFlag,
			contractIDFlag,
			networkPassphraseFlag,
			backendURLFlag,
			backendTimeoutFlag,
			launchtubeURLFlag,
			launchtubeJWTFlag,
			minerPathFlag,
			blockPollIntervalFlag,
			initialCheckDelayFlag,
			maxErrorCountFlag,
			maxMissedBlocksFlag,
			retryAttemptsFlag,
			plantDelayFlag,
			workDelayFlag,
			harvestDelayFlag,
			minerTimeoutFlag,
			nonceCountFlag,
			maxRecoveryAttemptsFlag,
			verbosityFlag,
			jsonLogsFlag,
			apiCorsFlag,
			enableMetricsFlag,
			metricsAddrFlag,
			enableAdminFlag,
			adminAddrFlag,
			enableAPILogsFlag,
			skipClockCheckFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	cfg := loadConfig(ctx)
	logLevel, glogger := initLogger(ctx)

	if !ctx.Bool(skipClockCheckFlag.Name) {
		checkClockOffset()
	}

	exitSignal := handleExitSignal()

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
		url, closeFunc, err := httpserver.StartMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			return errors.Wrap(err, "unable to start metrics server")
		}
		log.Info("metrics server started", "url", url)
		defer func() { log.Info("stopping metrics server..."); closeFunc() }()
	}

	chainClient := chain.NewClient(cfg.RPCURL)
	reader, err := chain.NewReader(chainClient, cfg.ContractID)
	if err != nil {
		fatal(fmt.Sprintf("contract id [%v]: %v", cfg.ContractID, err))
	}

	backendClient := backend.New(cfg.BackendURL, cfg.PoolerID, cfg.AuthToken, backend.Options{
		Timeout: cfg.BackendTimeout,
		Version: fullVersion(),
	})

	submitter, err := relay.NewSubmitter(
		chainClient,
		cfg.ContractID,
		cfg.NetworkPassphrase,
		cfg.LaunchtubeURL,
		cfg.LaunchtubeJWT,
		relay.Options{
			Attempts:      cfg.RetryAttempts,
			ClientVersion: fullVersion(),
		})
	if err != nil {
		fatal(fmt.Sprintf("relay submitter: %v", err))
	}

	runner := miner.New(cfg.MinerPath, cfg.MinerTimeout)

	scheduler := work.NewScheduler(runner, submitter, work.SchedulerOptions{
		WorkDelay:           cfg.WorkDelay,
		NonceCount:          cfg.NonceCount,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
	})
	// The harvest offset belongs to the Backend's schedule. It is accepted
	// here so both sides can share one env file.
	log.Debug("schedule offsets", "plant", cfg.PlantDelay, "work", cfg.WorkDelay, "harvest", cfg.HarvestDelay)

	coordinator := work.NewCoordinator(scheduler, backendClient, runner)
	defer func() { log.Info("closing work coordinator..."); coordinator.Close() }()

	mon := monitor.New(reader, backendClient, monitor.Options{
		PollInterval:    cfg.PollInterval,
		InitialDelay:    cfg.InitialCheckDelay,
		MaxErrors:       cfg.MaxErrorCount,
		MaxMissedBlocks: cfg.MaxMissedBlocks,
		PlantDelay:      cfg.PlantDelay,
	})
	defer func() { log.Info("closing block monitor..."); mon.Close() }()

	healthStatus := health.New(mon)

	apiLogs := new(atomic.Bool)
	apiLogs.Store(ctx.Bool(enableAPILogsFlag.Name))

	if ctx.Bool(enableAdminFlag.Name) {
		url, closeFunc, err := httpserver.StartAdminServer(ctx.String(adminAddrFlag.Name), logLevel, glogger, healthStatus, apiLogs)
		if err != nil {
			return errors.Wrap(err, "unable to start admin server")
		}
		log.Info("admin server started", "url", url)
		defer func() { log.Info("stopping admin server..."); closeFunc() }()
	}

	apiHandler := api.New(coordinator, mon, chainClient, healthStatus, apiLogs, api.Options{
		AllowedOrigins: cfg.APICors,
		PoolerID:       cfg.PoolerID,
		AuthToken:      cfg.AuthToken,
		Version:        fullVersion(),
		EnableMetrics:  ctx.Bool(enableMetricsFlag.Name),
	})
	apiURL, srvCloser := startAPIServer(fmt.Sprintf(":%d", cfg.Port), apiHandler)
	defer func() { log.Info("stopping API server..."); srvCloser() }()

	printStartupMessage(cfg, apiURL)

	if err := mon.Start(exitSignal); err != nil {
		return errors.Wrap(err, "unable to start block monitor")
	}

	<-exitSignal.Done()
	return nil
}
