// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package, calling function, and goroutine to all logs.
//
// Logging of trace and debug logs are enabled/disabled on a per package basis.
//
package logger

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/burstfs/utils"
)

type Level int

// Our logging levels
//
// We have more detailed logging levels than the logrus log package.
// As a result, when we do our logging we need to map from our levels
// to the logrus ones before calling logrus APIs.
//
const (
	// PanicLevel corresponds to logrus.PanicLevel; Logrus will log and then call panic with the log message
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; Logrus will log and then calls `os.Exit(1)`.
	FatalLevel
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel
	InfoLevel
	// TraceLevel is used for operational logs that trace the success path.
	// Whether these are logged is controlled on a per-package basis.
	// When enabled, these are logged at logrus.InfoLevel.
	TraceLevel
	// DebugLevel is used for very verbose logging of a particular package's internals.
	// When enabled, these are logged at logrus.DebugLevel.
	DebugLevel
)

// Log fields supported by logger
const (
	packageKey  string = "package"
	functionKey string = "function"
	errorKey    string = "error"
	gidKey      string = "goroutine"
)

// settingsStruct holds the per-package trace and debug switches.
//
// A package must be listed in packageTraceSettings (or packageDebugSettings)
// for "Logging.TraceLevelLogging" (or "Logging.DebugLevelLogging") to enable it.
//
type settingsStruct struct {
	sync.RWMutex
	traceLevelEnabled    bool
	debugLevelEnabled    bool
	packageTraceSettings map[string]bool
	packageDebugSettings map[string]bool
}

var settings = settingsStruct{
	packageTraceSettings: map[string]bool{
		"attrstore":  false,
		"extent":     false,
		"iclient":    false,
		"inode":      false,
		"logger":     false,
		"mread":      false,
		"node":       false,
		"rendezvous": false,
		"transport":  false,
	},
	packageDebugSettings: map[string]bool{
		"extent":    false,
		"iclient":   false,
		"inode":     false,
		"mread":     false,
		"transport": false,
	},
}

func setTraceLoggingLevel(confStrSlice []string) {
	settings.Lock()

	for pkg := range settings.packageTraceSettings {
		settings.packageTraceSettings[pkg] = false
	}
	settings.traceLevelEnabled = false

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			break HandlePkgs
		default:
			if _, ok := settings.packageTraceSettings[pkg]; ok {
				settings.packageTraceSettings[pkg] = true
				settings.traceLevelEnabled = true
			}
		}
	}

	settings.Unlock()
}

func setDebugLoggingLevel(confStrSlice []string) {
	settings.Lock()

	for pkg := range settings.packageDebugSettings {
		settings.packageDebugSettings[pkg] = false
	}
	settings.debugLevelEnabled = false

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			break HandlePkgs
		default:
			if _, ok := settings.packageDebugSettings[pkg]; ok {
				settings.packageDebugSettings[pkg] = true
				settings.debugLevelEnabled = true
			}
		}
	}

	settings.Unlock()
}

// TraceEnabled reports whether trace logging is on for pkg.
func TraceEnabled(pkg string) (enabled bool) {
	settings.RLock()
	enabled = settings.traceLevelEnabled && settings.packageTraceSettings[pkg]
	settings.RUnlock()
	return
}

// DebugEnabled reports whether debug logging is on for pkg.
func DebugEnabled(pkg string) (enabled bool) {
	settings.RLock()
	enabled = settings.debugLevelEnabled && settings.packageDebugSettings[pkg]
	settings.RUnlock()
	return
}

func levelMaybeEnabled(level Level) (enabled bool) {
	switch level {
	case TraceLevel:
		settings.RLock()
		enabled = settings.traceLevelEnabled
		settings.RUnlock()
	case DebugLevel:
		settings.RLock()
		enabled = settings.debugLevelEnabled
		settings.RUnlock()
	default:
		enabled = true
	}
	return
}

// funcCtxStruct is an optimization so that package and function are only
// extracted once per log call.
type funcCtxStruct struct {
	pkg   string
	entry *log.Entry
}

const backtraceOneLevel int = 1

func newFuncCtx(level int, err error) (ctx *funcCtxStruct) {
	var (
		fields log.Fields
	)

	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	fields = make(log.Fields)
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid
	if nil != err {
		fields[errorKey] = err
	}

	ctx = &funcCtxStruct{pkg: pkg, entry: log.WithFields(fields)}
	return
}

func (ctx *funcCtxStruct) log(level Level, args ...interface{}) {
	switch level {
	case PanicLevel:
		ctx.entry.Panic(args...)
	case FatalLevel:
		ctx.entry.Fatal(args...)
	case ErrorLevel:
		ctx.entry.Error(args...)
	case WarnLevel:
		ctx.entry.Warn(args...)
	case InfoLevel:
		ctx.entry.Info(args...)
	case TraceLevel:
		if TraceEnabled(ctx.pkg) {
			ctx.entry.Info(args...)
		}
	case DebugLevel:
		if DebugEnabled(ctx.pkg) {
			ctx.entry.Debug(args...)
		}
	}
}

func logf(level Level, err error, format string, args ...interface{}) {
	if !levelMaybeEnabled(level) {
		return
	}
	ctx := newFuncCtx(backtraceOneLevel+1, err)
	ctx.log(level, fmt.Sprintf(format, args...))
}

// EXTERNAL logging APIs
// These APIs are in the style of those provided by the logrus package.

func Panicf(format string, args ...interface{}) {
	logf(PanicLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Debugf(format string, args ...interface{}) {
	logf(DebugLevel, nil, format, args...)
}

func PanicfWithError(err error, format string, args ...interface{}) {
	logf(PanicLevel, err, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	logf(FatalLevel, err, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, err, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, err, format, args...)
}

func InfofWithError(err error, format string, args ...interface{}) {
	logf(InfoLevel, err, format, args...)
}

func TracefWithError(err error, format string, args ...interface{}) {
	logf(TraceLevel, err, format, args...)
}

// FuncCtx remembers the caller of TraceEnter so the matching TraceExit
// reports the same package and function.
type FuncCtx struct {
	ctx *funcCtxStruct
}

func formatTraceArgs(argsPrefix string, args []interface{}) string {
	if 0 == len(args) {
		return argsPrefix
	}
	return argsPrefix + " " + fmt.Sprint(args...)
}

// TraceEnter emits an "entry" trace for the calling function.
func TraceEnter(argsPrefix string, args ...interface{}) (fctx FuncCtx) {
	if !levelMaybeEnabled(TraceLevel) {
		return
	}
	fctx.ctx = newFuncCtx(backtraceOneLevel, nil)
	fctx.ctx.log(TraceLevel, "++> entry "+formatTraceArgs(argsPrefix, args))
	return
}

// TraceExit emits the matching "exit" trace. It is intended to be deferred.
func (fctx *FuncCtx) TraceExit(argsPrefix string, args ...interface{}) {
	if (nil == fctx.ctx) || !levelMaybeEnabled(TraceLevel) {
		return
	}
	fctx.ctx.log(TraceLevel, "<-- exit "+formatTraceArgs(argsPrefix, args))
}

// TraceExitErr is TraceExit with err attached to the entry.
func (fctx *FuncCtx) TraceExitErr(argsPrefix string, err error, args ...interface{}) {
	if (nil == fctx.ctx) || !levelMaybeEnabled(TraceLevel) {
		return
	}
	exitCtx := &funcCtxStruct{pkg: fctx.ctx.pkg, entry: fctx.ctx.entry.WithField(errorKey, err)}
	exitCtx.log(TraceLevel, "<-- exit "+formatTraceArgs(argsPrefix, args))
}
