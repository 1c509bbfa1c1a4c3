// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package mread

import (
	"sync"
	"time"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/logger"
)

// State is the lifecycle stage of a StatusStruct.
type State int

const (
	Active              State = iota // created, fragment requests being dispatched
	AwaitingCompletions              // everything dispatched
	Done                             // every request complete
	Consumed                         // results handed back; no longer registered
	Cancelled                        // abandoned; late fragments are dropped
)

func (state State) String() string {
	switch state {
	case Active:
		return "Active"
	case AwaitingCompletions:
		return "AwaitingCompletions"
	case Done:
		return "Done"
	case Consumed:
		return "Consumed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ResultStruct is what a batch reports for each of its requests.
type ResultStruct struct {
	BytesRead uint64
	Err       error
}

// StatusStruct tracks completion of a batch of ReadRequestStructs (an mread).
//
// updateLock guards the requests and counters and is what completion callbacks
// take. waitLock and completed exist only to park and wake the issuing goroutine.
// The two are never held together.
//
type StatusStruct struct {
	id uint32

	updateLock sync.Mutex
	state      State
	nReads     uint32
	nComplete  uint32
	nError     uint32
	reqs       []ReadRequestStruct

	waitLock  sync.Mutex
	completed *sync.Cond
	done      bool // protected by waitLock; mirrors state >= Done
	abandoned bool // protected by waitLock; set by Cancel
}

// NewStatus takes ownership of reqs and returns an Active StatusStruct for them.
//
// InvalidArgError is returned if a request's Buf is shorter than its Length.
//
func NewStatus(reqs []ReadRequestStruct) (status *StatusStruct, err error) {
	for i := range reqs {
		if uint64(len(reqs[i].Buf)) < reqs[i].Length {
			err = blunder.NewError(blunder.InvalidArgError, "request %d buffer holds %d of %d bytes", i, len(reqs[i].Buf), reqs[i].Length)
			return
		}
	}

	status = &StatusStruct{
		state:  Active,
		nReads: uint32(len(reqs)),
		reqs:   reqs,
	}

	status.completed = sync.NewCond(&status.waitLock)

	for i := range status.reqs {
		req := &status.reqs[i]
		req.Err = nil
		req.BytesRead = 0
		req.expected = req.Length
		req.complete = false
		req.coverage.init()
	}

	if 0 == status.nReads {
		status.state = Done
		status.done = true
	}

	return
}

// ID returns the id assigned by RegistryStruct.Register.
func (status *StatusStruct) ID() uint32 {
	return status.id
}

// Request returns a copy of the inputs of request index.
func (status *StatusStruct) Request(index uint32) (req ReadRequestStruct, err error) {
	status.updateLock.Lock()
	defer status.updateLock.Unlock()

	err = status.checkIndexWhileLocked(index)
	if nil != err {
		return
	}

	req = ReadRequestStruct{
		GFID:       status.reqs[index].GFID,
		FileOffset: status.reqs[index].FileOffset,
		Length:     status.reqs[index].Length,
	}

	return
}

func (status *StatusStruct) checkIndexWhileLocked(index uint32) (err error) {
	if index >= status.nReads {
		err = blunder.NewError(blunder.OutOfRangeError, "mread %d has no request %d (n_reads %d)", status.id, index, status.nReads)
	}
	return
}

// MarkDispatched moves an Active batch to AwaitingCompletions.
func (status *StatusStruct) MarkDispatched() {
	status.updateLock.Lock()
	if Active == status.state {
		status.state = AwaitingCompletions
	}
	status.updateLock.Unlock()
}

// completeWhileLocked marks req complete and returns true if that finished the batch.
func (status *StatusStruct) completeWhileLocked(index uint32, reqErr error) (batchDone bool) {
	req := &status.reqs[index]

	req.complete = true
	req.Err = reqErr

	req.BytesRead = req.delivered()

	status.nComplete++
	if nil != reqErr {
		status.nError++
	}

	logger.Tracef("mread %d request %d complete (bytes %d err %v) [%d/%d, %d errors]",
		status.id, index, req.BytesRead, reqErr, status.nComplete, status.nReads, status.nError)

	if status.nComplete == status.nReads {
		status.state = Done
		batchDone = true
	}

	return
}

// signalDone is called with neither lock held.
func (status *StatusStruct) signalDone() {
	status.waitLock.Lock()
	status.done = true
	status.completed.Broadcast()
	status.waitLock.Unlock()
}

func (status *StatusStruct) usableWhileLocked() (err error) {
	if Cancelled == status.state {
		err = blunder.NewError(blunder.CanceledError, "mread %d was cancelled", status.id)
	}
	return
}

// ApplyFragment folds delivered bytes [fileOffset, fileOffset+length) of request
// index into its buffer. A fragment flagged eof also marks the end of the file at
// fileOffset+length.
//
// Bytes outside the request's window are ignored, as are fragments for a request
// that already completed. The request completes once every byte below the
// expected length has been delivered; bytes beyond an EOF are not counted.
//
func (status *StatusStruct) ApplyFragment(index uint32, fileOffset uint64, length uint64, payload []byte, eof bool) (err error) {
	var (
		batchDone bool
	)

	if uint64(len(payload)) < length {
		length = uint64(len(payload))
	}

	status.updateLock.Lock()

	err = status.checkIndexWhileLocked(index)
	if nil == err {
		err = status.usableWhileLocked()
	}
	if nil != err {
		status.updateLock.Unlock()
		return
	}

	req := &status.reqs[index]

	if req.complete {
		status.updateLock.Unlock()
		logger.Tracef("mread %d request %d ignoring fragment for completed request", status.id, index)
		return
	}

	reqOffset, extOffset, coverLength, ok := req.GetExtentCoverage(fileOffset, length)
	if ok {
		copy(req.Buf[reqOffset:reqOffset+coverLength], payload[extOffset:extOffset+coverLength])
		req.coverage.add(reqOffset, reqOffset+coverLength)
	}

	if eof {
		status.capExpectedWhileLocked(req, fileOffset+length)
	}

	if req.filled() {
		batchDone = status.completeWhileLocked(index, nil)
	}

	status.updateLock.Unlock()

	if batchDone {
		status.signalDone()
	}

	return
}

// ApplyZeroFill zero-fills [fileOffset, fileOffset+length) of request index and
// counts it as delivered. Used for holes in a file.
func (status *StatusStruct) ApplyZeroFill(index uint32, fileOffset uint64, length uint64) (err error) {
	var (
		batchDone bool
	)

	status.updateLock.Lock()

	err = status.checkIndexWhileLocked(index)
	if nil == err {
		err = status.usableWhileLocked()
	}
	if nil != err {
		status.updateLock.Unlock()
		return
	}

	req := &status.reqs[index]

	if !req.complete {
		reqOffset, _, coverLength, ok := req.GetExtentCoverage(fileOffset, length)
		if ok {
			zeroes := req.Buf[reqOffset : reqOffset+coverLength]
			for i := range zeroes {
				zeroes[i] = 0
			}
			req.coverage.add(reqOffset, reqOffset+coverLength)
		}

		if req.filled() {
			batchDone = status.completeWhileLocked(index, nil)
		}
	}

	status.updateLock.Unlock()

	if batchDone {
		status.signalDone()
	}

	return
}

// SetEOF records that the file ends at fileSize, capping how many bytes request
// index can expect.
func (status *StatusStruct) SetEOF(index uint32, fileSize uint64) (err error) {
	var (
		batchDone bool
	)

	status.updateLock.Lock()

	err = status.checkIndexWhileLocked(index)
	if nil == err {
		err = status.usableWhileLocked()
	}
	if nil != err {
		status.updateLock.Unlock()
		return
	}

	req := &status.reqs[index]

	if !req.complete {
		status.capExpectedWhileLocked(req, fileSize)
		if req.filled() {
			batchDone = status.completeWhileLocked(index, nil)
		}
	}

	status.updateLock.Unlock()

	if batchDone {
		status.signalDone()
	}

	return
}

func (status *StatusStruct) capExpectedWhileLocked(req *ReadRequestStruct, eofOffset uint64) {
	var (
		expected uint64
	)

	if eofOffset > req.FileOffset {
		expected = eofOffset - req.FileOffset
	}
	if expected < req.expected {
		req.expected = expected
	}
}

// Update records the outcome of request index. A non-nil reqErr completes the
// request in error. Otherwise the request completes only if complete is set.
//
// Completing a request twice returns AlreadyCompleteError and changes nothing.
//
func (status *StatusStruct) Update(index uint32, complete bool, reqErr error) (err error) {
	var (
		batchDone bool
	)

	status.updateLock.Lock()

	err = status.checkIndexWhileLocked(index)
	if nil == err {
		err = status.usableWhileLocked()
	}
	if nil != err {
		status.updateLock.Unlock()
		return
	}

	req := &status.reqs[index]

	if (nil != reqErr) || complete {
		if req.complete {
			status.updateLock.Unlock()
			err = blunder.NewError(blunder.AlreadyCompleteError, "mread %d request %d already complete", status.id, index)
			return
		}
		batchDone = status.completeWhileLocked(index, reqErr)
	}

	status.updateLock.Unlock()

	if batchDone {
		status.signalDone()
	}

	return
}

// Wait blocks until the batch is Done, it is cancelled, or timeout (if non-zero)
// elapses. TimeoutError leaves the batch untouched; completions may still arrive.
func (status *StatusStruct) Wait(timeout time.Duration) (err error) {
	var (
		expired bool
		timer   *time.Timer
	)

	status.waitLock.Lock()

	if !status.done && !status.abandoned && (0 < timeout) {
		timer = time.AfterFunc(timeout, func() {
			status.waitLock.Lock()
			expired = true
			status.completed.Broadcast()
			status.waitLock.Unlock()
		})
	}

	for !status.done && !status.abandoned && !expired {
		status.completed.Wait()
	}

	switch {
	case status.done:
		err = nil
	case status.abandoned:
		err = blunder.NewError(blunder.CanceledError, "mread %d was cancelled", status.id)
	default:
		err = blunder.NewError(blunder.TimeoutError, "mread %d not complete after %v", status.id, timeout)
	}

	status.waitLock.Unlock()

	if nil != timer {
		timer.Stop()
	}

	return
}

// Poll reports whether the batch is Done (or already Consumed).
func (status *StatusStruct) Poll() (done bool) {
	status.waitLock.Lock()
	done = status.done
	status.waitLock.Unlock()
	return
}

// Cancel abandons the batch unless it is already Done. Waiters are woken and
// later fragments are rejected. It returns false if the batch had completed.
func (status *StatusStruct) Cancel() (cancelled bool) {
	status.updateLock.Lock()
	switch status.state {
	case Active, AwaitingCompletions:
		status.state = Cancelled
		cancelled = true
	case Cancelled:
		cancelled = true
	}
	status.updateLock.Unlock()

	if cancelled {
		status.waitLock.Lock()
		status.abandoned = true
		status.completed.Broadcast()
		status.waitLock.Unlock()
	}

	return
}

// MarkConsumed moves a Done batch to Consumed.
func (status *StatusStruct) MarkConsumed() {
	status.updateLock.Lock()
	if Done == status.state {
		status.state = Consumed
	}
	status.updateLock.Unlock()
}

// State returns the current lifecycle stage.
func (status *StatusStruct) State() (state State) {
	status.updateLock.Lock()
	state = status.state
	status.updateLock.Unlock()
	return
}

// Counts returns n_reads, n_complete and n_error.
func (status *StatusStruct) Counts() (nReads uint32, nComplete uint32, nError uint32) {
	status.updateLock.Lock()
	nReads = status.nReads
	nComplete = status.nComplete
	nError = status.nError
	status.updateLock.Unlock()
	return
}

// Results returns the outcome of every request. Requests not yet complete report
// the bytes delivered so far and a nil Err.
func (status *StatusStruct) Results() (results []ResultStruct) {
	status.updateLock.Lock()

	results = make([]ResultStruct, len(status.reqs))
	for i := range status.reqs {
		req := &status.reqs[i]
		if req.complete {
			results[i] = ResultStruct{BytesRead: req.BytesRead, Err: req.Err}
		} else {
			results[i] = ResultStruct{BytesRead: req.delivered()}
		}
	}

	status.updateLock.Unlock()

	return
}
