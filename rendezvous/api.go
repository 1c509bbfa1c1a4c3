// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements the startup barrier at which every server rank
// reports its pid to rank 0, which then publishes the set in a pid file under
// the shared file system directory.
package rendezvous

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync"
	"time"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/logger"
)

// PidFileName is the name of the pid file written by WritePidFile.
const PidFileName = "burstfsd.pids"

// RendezvousStruct collects one pid per rank.
type RendezvousStruct struct {
	sync.Mutex
	allReported *sync.Cond
	pids        []int // 0 until reported
	numReported int
}

// New returns a RendezvousStruct expecting numRanks reports.
func New(numRanks int) (rendezvous *RendezvousStruct) {
	rendezvous = &RendezvousStruct{pids: make([]int, numRanks)}
	rendezvous.allReported = sync.NewCond(&rendezvous.Mutex)
	return
}

// Report records pid for rank. Reporting a rank again replaces its pid.
func (rendezvous *RendezvousStruct) Report(rank int, pid int) (err error) {
	if 0 >= pid {
		err = blunder.NewError(blunder.InvalidArgError, "rank %d reported invalid pid %d", rank, pid)
		return
	}

	rendezvous.Lock()
	defer rendezvous.Unlock()

	if (0 > rank) || (rank >= len(rendezvous.pids)) {
		err = blunder.NewError(blunder.OutOfRangeError, "rank %d not in [0,%d)", rank, len(rendezvous.pids))
		return
	}

	if 0 == rendezvous.pids[rank] {
		rendezvous.numReported++
	}
	rendezvous.pids[rank] = pid

	logger.Tracef("rank %d reported pid %d (%d of %d)", rank, pid, rendezvous.numReported, len(rendezvous.pids))

	if rendezvous.numReported == len(rendezvous.pids) {
		rendezvous.allReported.Broadcast()
	}

	return
}

// Complete reports whether every rank has reported.
func (rendezvous *RendezvousStruct) Complete() (complete bool) {
	rendezvous.Lock()
	complete = rendezvous.numReported == len(rendezvous.pids)
	rendezvous.Unlock()
	return
}

// Pids returns a copy of the reported pids indexed by rank.
func (rendezvous *RendezvousStruct) Pids() (pids []int) {
	rendezvous.Lock()
	pids = append([]int(nil), rendezvous.pids...)
	rendezvous.Unlock()
	return
}

// Await blocks until every rank has reported or timeout (if non-zero) elapses,
// in which case TimeoutError is returned.
func (rendezvous *RendezvousStruct) Await(timeout time.Duration) (err error) {
	var (
		expired bool
		timer   *time.Timer
	)

	rendezvous.Lock()

	if (rendezvous.numReported < len(rendezvous.pids)) && (0 < timeout) {
		timer = time.AfterFunc(timeout, func() {
			rendezvous.Lock()
			expired = true
			rendezvous.allReported.Broadcast()
			rendezvous.Unlock()
		})
	}

	for (rendezvous.numReported < len(rendezvous.pids)) && !expired {
		rendezvous.allReported.Wait()
	}

	if rendezvous.numReported < len(rendezvous.pids) {
		err = blunder.NewError(blunder.TimeoutError, "only %d of %d servers reported within %v", rendezvous.numReported, len(rendezvous.pids), timeout)
	}

	rendezvous.Unlock()

	if nil != timer {
		timer.Stop()
	}

	return
}

// WritePidFile writes "[rank] pid" lines for every rank to dir/PidFileName.
func (rendezvous *RendezvousStruct) WritePidFile(dir string) (pidFilePath string, err error) {
	var (
		buf bytes.Buffer
	)

	rendezvous.Lock()
	for rank, pid := range rendezvous.pids {
		fmt.Fprintf(&buf, "[%d] %d\n", rank, pid)
	}
	rendezvous.Unlock()

	pidFilePath = filepath.Join(dir, PidFileName)

	err = ioutil.WriteFile(pidFilePath, buf.Bytes(), 0644)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		logger.ErrorfWithError(err, "failed to create %s", pidFilePath)
		return
	}

	return
}

// Publish runs rank's side of the rendezvous. A non-zero rank just reports pid.
// Rank 0 reports its own pid, waits up to timeout for the rest and, if all
// arrived, writes the pid file in dir.
func (rendezvous *RendezvousStruct) Publish(rank int, pid int, timeout time.Duration, dir string) (err error) {
	err = rendezvous.Report(rank, pid)
	if (nil != err) || (0 != rank) {
		return
	}

	err = rendezvous.Await(timeout)
	if nil != err {
		logger.ErrorfWithError(err, "some servers failed to initialize within timeout")
		return
	}

	pidFilePath, err := rendezvous.WritePidFile(dir)
	if nil != err {
		return
	}

	logger.Infof("servers ready to accept client connections (pids in %s)", pidFilePath)

	return
}
