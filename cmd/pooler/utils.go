// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	isatty "github.com/mattn/go-isatty"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/kalepool/pooler/co"
)

func fatal(args ...interface{}) {
	var w io.Writer
	if runtime.GOOS == "windows" {
		// The SameFile check below doesn't work on Windows.
		// stdout is unlikely to get redirected though, so just print there.
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		} else {
			w = io.MultiWriter(os.Stdout, os.Stderr)
		}
	}
	fmt.Fprint(w, "Fatal: ")
	fmt.Fprintln(w, args...)
	os.Exit(1)
}

func initLogger(ctx *cli.Context) (*slog.LevelVar, *log.GlogHandler) {
	logLevel := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))

	var inner slog.Handler
	if ctx.Bool(jsonLogsFlag.Name) {
		inner = log.JSONHandlerWithLevel(os.Stderr, log.LevelTrace)
	} else {
		useColor := (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
		inner = log.NewTerminalHandler(os.Stderr, useColor)
	}
	glogger := log.NewGlogHandler(inner)
	glogger.Verbosity(logLevel)
	log.SetDefault(log.NewLogger(glogger))

	// The glog handler has no level getter, so the effective level is
	// shadowed here for the admin API. Both must be updated together.
	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel)
	return levelVar, glogger
}

// handleExitSignal process the exit signal like Ctrl+C and returns a context
// canceled on the first signal received.
func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		log.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}

const clockOffsetTolerance = 2 * time.Second

// checkClockOffset warns when the local clock drifts from NTP far enough to
// misjudge block age. Probe failures are not fatal, the host may be offline.
func checkClockOffset() {
	resp, err := ntp.Query("pool.ntp.org")
	if err != nil {
		log.Debug("failed to access NTP", "err", err)
		return
	}
	if resp.ClockOffset > clockOffsetTolerance || resp.ClockOffset < -clockOffsetTolerance {
		log.Warn("clock offset detected", "offset", common.PrettyDuration(resp.ClockOffset))
	}
}

func startAPIServer(addr string, handler http.Handler) (string, func()) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fatal(fmt.Sprintf("listen API addr [%v]: %v", addr, err))
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
	}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/", func() {
		srv.Close()
		goes.Wait()
	}
}

func printStartupMessage(cfg *config, apiURL string) {
	fmt.Printf(`Starting %v
    Version    [ %v ]
    Pooler ID  [ %v ]
    Contract   [ %v ]
    Network    [ %v ]
    Chain RPC  [ %v ]
    Backend    [ %v ]
    API portal [ %v ]
`,
		common.MakeName("Pooler", fullVersion()),
		fullVersion(),
		cfg.PoolerID,
		cfg.ContractID,
		cfg.NetworkPassphrase,
		cfg.RPCURL,
		cfg.BackendURL,
		apiURL)
}
