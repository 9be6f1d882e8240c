// Copyright (c) 2025 The KalePool developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package loglevel

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/kalepool/pooler/api/restutil"
)

type Request struct {
	Level string `json:"level"`
}

type Response struct {
	CurrentLevel string `json:"currentLevel"`
}

// LogLevel adjusts the root logger verbosity at runtime. The glog handler
// holds the effective filter but exposes no getter, so the current level is
// shadowed in logLevel and both are updated together.
type LogLevel struct {
	logLevel *slog.LevelVar
	glog     *log.GlogHandler
}

func New(logLevel *slog.LevelVar, glog *log.GlogHandler) *LogLevel {
	return &LogLevel{
		logLevel: logLevel,
		glog:     glog,
	}
}

func (l *LogLevel) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").
		Methods(http.MethodGet).
		Name("get-log-level").
		HandlerFunc(restutil.WrapHandlerFunc(l.getLogLevelHandler))

	sub.Path("").
		Methods(http.MethodPost).
		Name("post-log-level").
		HandlerFunc(restutil.WrapHandlerFunc(l.postLogLevelHandler))
}

func (l *LogLevel) getLogLevelHandler(w http.ResponseWriter, _ *http.Request) error {
	return restutil.WriteJSON(w, Response{
		CurrentLevel: log.LevelString(l.logLevel.Level()),
	})
}

func (l *LogLevel) postLogLevelHandler(w http.ResponseWriter, r *http.Request) error {
	var req Request

	if err := restutil.ParseJSON(r.Body, &req); err != nil {
		return restutil.BadRequest(errors.WithMessage(err, "Invalid request body"))
	}

	var lvl slog.Level
	switch req.Level {
	case "debug":
		lvl = log.LevelDebug
	case "info":
		lvl = log.LevelInfo
	case "warn":
		lvl = log.LevelWarn
	case "error":
		lvl = log.LevelError
	case "trace":
		lvl = log.LevelTrace
	case "crit":
		lvl = log.LevelCrit
	default:
		return restutil.BadRequest(errors.New("Invalid verbosity level"))
	}

	if l.glog != nil {
		l.glog.Verbosity(lvl)
	}
	l.logLevel.Set(lvl)

	return restutil.WriteJSON(w, Response{
		CurrentLevel: log.LevelString(l.logLevel.Level()),
	})
}
