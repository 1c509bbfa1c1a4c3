// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/burstfs/conf"
)

type outputStruct struct {
	sync.Mutex
	logFile      *os.File    // == nil if Logging.LogFilePath is missing or empty
	logToConsole bool        //
	targets      []io.Writer // added via AddLogTarget()
}

var output outputStruct

// Up configures the process-wide logger from the [Logging] section of confMap.
//
// Every option is optional: LogFilePath (default: none), LogToConsole (default: true
// if no LogFilePath), TraceLevelLogging and DebugLevelLogging (package lists).
//
func Up(confMap conf.ConfMap) (err error) {
	var (
		debugConfSlice []string
		logFilePath    string
		traceConfSlice []string
	)

	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	// NOTE: We always enable max logging in logrus and decide in this package whether to log

	log.SetLevel(log.DebugLevel)

	output.Lock()

	if nil != output.logFile {
		_ = output.logFile.Close()
		output.logFile = nil
	}

	logFilePath, err = confMap.FetchOptionValueString("Logging", "LogFilePath")
	if (nil == err) && ("" != logFilePath) {
		output.logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			output.Unlock()
			log.Errorf("couldn't open log file: %v", err)
			return
		}
	}

	output.logToConsole, err = confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		output.logToConsole = (nil == output.logFile)
	}

	output.setOutputWhileLocked()

	output.Unlock()

	traceConfSlice, _ = confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	debugConfSlice, _ = confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")
	setDebugLoggingLevel(debugConfSlice)

	if 0 < len(traceConfSlice) {
		Infof("trace logging enabled for: %s", strings.Join(traceConfSlice, ","))
	}

	err = nil
	return
}

// Down closes the log file (if any) and reverts to logging on stderr.
func Down() (err error) {
	output.Lock()

	if nil != output.logFile {
		err = output.logFile.Close()
		output.logFile = nil
	}

	output.logToConsole = true
	output.targets = nil

	output.setOutputWhileLocked()

	output.Unlock()

	setTraceLoggingLevel(nil)
	setDebugLoggingLevel(nil)

	return
}

// AddLogTarget adds another target for log messages to be written to.
//
// writer is called once for each log message.
//
func AddLogTarget(writer io.Writer) {
	output.Lock()
	output.targets = append(output.targets, writer)
	output.setOutputWhileLocked()
	output.Unlock()
}

func (output *outputStruct) setOutputWhileLocked() {
	var (
		writers []io.Writer
	)

	writers = make([]io.Writer, 0, 2+len(output.targets))

	if nil != output.logFile {
		writers = append(writers, output.logFile)
	}
	if output.logToConsole {
		writers = append(writers, os.Stderr)
	}
	writers = append(writers, output.targets...)

	switch len(writers) {
	case 0:
		log.SetOutput(ioutil.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}
}

// LogBuffer captures the most recent log entries. Useful for writing test cases.
type LogBuffer struct {
	sync.Mutex
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

// LogTarget is an io.Writer feeding a LogBuffer
type LogTarget struct {
	LogBuf *LogBuffer
}

// Init initializes a LogTarget to hold up to nEntry log entries.
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{LogEntries: make([]string, nEntry)}
}

// Write is called by logrus for each log entry
func (target LogTarget) Write(p []byte) (n int, err error) {
	target.LogBuf.Lock()

	target.LogBuf.TotalEntries++

	if 0 < len(target.LogBuf.LogEntries) {
		copy(target.LogBuf.LogEntries[1:], target.LogBuf.LogEntries[:len(target.LogBuf.LogEntries)-1])
		target.LogBuf.LogEntries[0] = strings.TrimRight(string(p), "\n")
	}

	target.LogBuf.Unlock()

	n = len(p)
	return
}
