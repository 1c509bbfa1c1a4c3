// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package iclient

import (
	"sync/atomic"
	"time"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/extent"
	"github.com/NVIDIA/burstfs/logger"
	"github.com/NVIDIA/burstfs/mread"
	"github.com/NVIDIA/burstfs/transport"
)

// readPlanStruct is how one request of a batch will be satisfied.
type readPlanStruct struct {
	remote   bool // the index does not know the gfid; ask its owning server
	entries  []extent.EntryStruct
	fileSize uint64
}

// SubmitReads starts an mread for reqs and returns its batch id.
//
// Every request is checked before anything is dispatched: a zero length, an
// overflowing range or a Buf shorter than Length is InvalidRangeError, and a gfid
// the index does not hold is NotFoundError (unless RemoteLookup is configured).
// Either fails the whole batch. Once the batch is registered, problems are
// reported per request through Wait's results.
//
func (client *ClientStruct) SubmitReads(reqs []mread.ReadRequestStruct) (batchID uint32, err error) {
	var (
		plans  []readPlanStruct
		status *mread.StatusStruct
	)

	fctx := logger.TraceEnter("args: numReqs", len(reqs))
	defer func() { fctx.TraceExitErr("returning batchID", err, batchID) }()

	plans = make([]readPlanStruct, len(reqs))

	for i := range reqs {
		req := &reqs[i]

		err = extent.CheckRange(req.FileOffset, req.Length)
		if nil != err {
			return
		}
		if uint64(len(req.Buf)) < req.Length {
			err = blunder.NewError(blunder.InvalidRangeError, "request %d buffer holds %d bytes, needs %d", i, len(req.Buf), req.Length)
			return
		}

		plans[i].entries, plans[i].fileSize, err = client.index.QueryRange(req.GFID, req.FileOffset, req.Length)
		if nil != err {
			if client.config.RemoteLookup && blunder.Is(err, blunder.NotFoundError) {
				plans[i].remote = true
				err = nil
				continue
			}
			return
		}
	}

	status, err = mread.NewStatus(append([]mread.ReadRequestStruct(nil), reqs...))
	if nil != err {
		return
	}
	batchID = client.registry.Register(status)

	atomic.AddUint64(&client.stats.BatchesSubmitted, 1)

	for i := range reqs {
		if plans[i].remote {
			client.dispatchRemote(status, uint32(i), &reqs[i])
		} else {
			client.dispatchLocated(status, uint32(i), &reqs[i], &plans[i])
		}
	}

	status.MarkDispatched()

	return
}

// dispatchRemote sends the whole window of req to the server owning its gfid.
func (client *ClientStruct) dispatchRemote(status *mread.StatusStruct, index uint32, req *mread.ReadRequestStruct) {
	serverID := client.resolver.OwningServer(req.GFID, req.FileOffset)

	client.dispatch(status, serverID, &transport.FragmentRequestStruct{
		BatchID:    status.ID(),
		Index:      index,
		GFID:       req.GFID,
		FileOffset: req.FileOffset,
		Length:     req.Length,
	})
}

// dispatchLocated walks the extents of req's window in offset order, zero-filling
// holes and sending one fragment request per extent to the server holding it.
func (client *ClientStruct) dispatchLocated(status *mread.StatusStruct, index uint32, req *mread.ReadRequestStruct, plan *readPlanStruct) {
	var (
		cursor uint64
		end    uint64
		err    error
	)

	err = status.SetEOF(index, plan.fileSize)
	if nil != err {
		logger.WarnfWithError(err, "mread %d request %d: SetEOF failed", status.ID(), index)
		return
	}

	end = req.FileOffset + req.Length
	if end > plan.fileSize {
		end = plan.fileSize
	}

	cursor = req.FileOffset

	for i := range plan.entries {
		entry := &plan.entries[i]

		if entry.FileOffset > cursor {
			client.zeroFill(status, index, cursor, entry.FileOffset-cursor)
		}

		if !client.dispatch(status, entry.Location.ServerID, &transport.FragmentRequestStruct{
			BatchID:    status.ID(),
			Index:      index,
			GFID:       req.GFID,
			FileOffset: entry.FileOffset,
			Length:     entry.Length,
		}) {
			return
		}

		cursor = entry.End()
	}

	if end > cursor {
		client.zeroFill(status, index, cursor, end-cursor)
	}
}

func (client *ClientStruct) zeroFill(status *mread.StatusStruct, index uint32, fileOffset uint64, length uint64) {
	err := status.ApplyZeroFill(index, fileOffset, length)
	if nil != err {
		logger.WarnfWithError(err, "mread %d request %d: zero-fill failed", status.ID(), index)
		return
	}
	atomic.AddUint64(&client.stats.ZeroFillBytes, length)
}

// dispatch hands request to the transport. A synchronous failure completes the
// owning request with TransportError and dispatch returns false.
func (client *ClientStruct) dispatch(status *mread.StatusStruct, serverID uint32, request *transport.FragmentRequestStruct) (ok bool) {
	err := client.transport.Dispatch(serverID, request, client.complete)
	if nil == err {
		atomic.AddUint64(&client.stats.FragmentsSent, 1)
		ok = true
		return
	}

	logger.TracefWithError(err, "mread %d request %d: dispatch to server %d failed", request.BatchID, request.Index, serverID)

	atomic.AddUint64(&client.stats.RequestErrors, 1)

	err = status.Update(request.Index, false, blunder.AddError(err, blunder.TransportError))
	if nil != err {
		logger.TracefWithError(err, "mread %d request %d: recording dispatch failure", request.BatchID, request.Index)
	}

	return
}

// complete is the CompletionFunc for every fragment request the client sends.
func (client *ClientStruct) complete(fragment *transport.FragmentStruct) {
	var (
		err error
	)

	atomic.AddUint64(&client.stats.FragmentsReceived, 1)

	status, ok := client.registry.Get(fragment.BatchID)
	if !ok {
		atomic.AddUint64(&client.stats.FragmentsDropped, 1)
		logger.Tracef("dropping fragment for unregistered mread %d request %d", fragment.BatchID, fragment.Index)
		return
	}

	if nil != fragment.Err {
		err = status.Update(fragment.Index, false, fragment.Err)
		if nil == err {
			atomic.AddUint64(&client.stats.RequestErrors, 1)
		}
	} else {
		err = status.ApplyFragment(fragment.Index, fragment.FileOffset, fragment.Length, fragment.Data, fragment.EOF)
		if nil == err {
			atomic.AddUint64(&client.stats.BytesReceived, uint64(len(fragment.Data)))
		}
	}

	switch {
	case nil == err:
	case blunder.Is(err, blunder.CanceledError):
		atomic.AddUint64(&client.stats.FragmentsDropped, 1)
	case blunder.Is(err, blunder.AlreadyCompleteError):
		logger.Tracef("mread %d request %d: ignoring error fragment for completed request", fragment.BatchID, fragment.Index)
	default:
		logger.WarnfWithError(err, "mread %d request %d: bad fragment", fragment.BatchID, fragment.Index)
	}
}

func (client *ClientStruct) getStatus(batchID uint32) (status *mread.StatusStruct, err error) {
	status, ok := client.registry.Get(batchID)
	if !ok {
		err = blunder.NewError(blunder.BatchNotFoundError, "no active mread %d", batchID)
	}
	return
}

// Wait blocks until batch batchID is Done, then unregisters it and returns the
// outcome of each request. A zero timeout waits forever.
//
// On TimeoutError the batch stays registered and completions keep arriving; the
// caller may Wait again or Cancel it.
//
func (client *ClientStruct) Wait(batchID uint32, timeout time.Duration) (results []mread.ResultStruct, err error) {
	status, err := client.getStatus(batchID)
	if nil != err {
		return
	}

	err = status.Wait(timeout)
	if nil != err {
		return
	}

	results = status.Results()

	if client.registry.Remove(batchID) {
		atomic.AddUint64(&client.stats.BatchesCompleted, 1)
	}
	status.MarkConsumed()

	if logger.TraceEnabled("iclient") {
		nReads, nComplete, nError := status.Counts()
		logger.Tracef("mread %d consumed: n_reads %d n_complete %d n_error %d", batchID, nReads, nComplete, nError)
	}

	return
}

// Poll reports whether batch batchID is Done without blocking.
func (client *ClientStruct) Poll(batchID uint32) (done bool, err error) {
	status, err := client.getStatus(batchID)
	if nil != err {
		return
	}
	done = status.Poll()
	return
}

// Cancel abandons batch batchID and unregisters it, so fragments still in flight
// are dropped. A batch that is already Done is left for Wait and false is returned.
func (client *ClientStruct) Cancel(batchID uint32) (cancelled bool, err error) {
	status, err := client.getStatus(batchID)
	if nil != err {
		return
	}

	cancelled = status.Cancel()
	if cancelled {
		if client.registry.Remove(batchID) {
			atomic.AddUint64(&client.stats.BatchesCancelled, 1)
		}
		logger.Tracef("mread %d cancelled", batchID)
	}

	return
}

// Read submits reqs and waits up to the configured WaitTimeout for them. On
// timeout the batch is cancelled before TimeoutError is returned, unless it
// completed before it could be cancelled.
func (client *ClientStruct) Read(reqs []mread.ReadRequestStruct) (results []mread.ResultStruct, err error) {
	batchID, err := client.SubmitReads(reqs)
	if nil != err {
		return
	}

	results, err = client.Wait(batchID, client.config.WaitTimeout)
	if blunder.Is(err, blunder.TimeoutError) {
		results, err = client.cancelOrCollect(batchID, err)
	}

	return
}

// cancelOrCollect cancels a batch whose Wait timed out with timeoutErr. If the
// batch reached Done in the meantime it is consumed instead.
func (client *ClientStruct) cancelOrCollect(batchID uint32, timeoutErr error) (results []mread.ResultStruct, err error) {
	cancelled, err := client.Cancel(batchID)
	if nil != err {
		return
	}

	if cancelled {
		err = timeoutErr
		return
	}

	logger.Tracef("mread %d completed after its wait timed out", batchID)

	results, err = client.Wait(batchID, 0)

	return
}

// Stats returns a snapshot of the client's counters.
func (client *ClientStruct) Stats() (stats StatsStruct) {
	stats = StatsStruct{
		BatchesSubmitted:  atomic.LoadUint64(&client.stats.BatchesSubmitted),
		BatchesCompleted:  atomic.LoadUint64(&client.stats.BatchesCompleted),
		BatchesCancelled:  atomic.LoadUint64(&client.stats.BatchesCancelled),
		FragmentsSent:     atomic.LoadUint64(&client.stats.FragmentsSent),
		FragmentsReceived: atomic.LoadUint64(&client.stats.FragmentsReceived),
		FragmentsDropped:  atomic.LoadUint64(&client.stats.FragmentsDropped),
		BytesReceived:     atomic.LoadUint64(&client.stats.BytesReceived),
		ZeroFillBytes:     atomic.LoadUint64(&client.stats.ZeroFillBytes),
		RequestErrors:     atomic.LoadUint64(&client.stats.RequestErrors),
	}
	return
}
