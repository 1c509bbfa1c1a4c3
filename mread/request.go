// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package mread tracks the completion of batches of reads ("mreads") whose data
// arrives as asynchronous, possibly out-of-order and possibly duplicated fragments.
package mread

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/logger"
)

// ReadRequestStruct is one logical read: Length bytes of GFID starting at
// FileOffset, delivered into Buf.
//
// Err and BytesRead are valid once the owning batch is Done.
//
type ReadRequestStruct struct {
	GFID       inode.GFID
	FileOffset uint64
	Length     uint64
	Buf        []byte

	Err       error
	BytesRead uint64

	coverage coverageStruct
	expected uint64 // Length until an EOF says otherwise
	complete bool
}

// GetExtentCoverage locates the part of an extent [extentFileOffset,
// extentFileOffset+extentLength) that falls inside req's window.
//
// reqOffset is where in req.Buf the overlap lands, extOffset is where in the
// extent's payload it starts, and length is its size. ok is false if the extent
// is disjoint from the window.
//
func (req *ReadRequestStruct) GetExtentCoverage(extentFileOffset uint64, extentLength uint64) (reqOffset uint64, extOffset uint64, length uint64, ok bool) {
	var (
		end   uint64
		start uint64
	)

	start = extentFileOffset
	if req.FileOffset > start {
		start = req.FileOffset
	}

	end = req.FileOffset + req.Length
	if extentEnd := extentFileOffset + extentLength; (extentEnd >= extentFileOffset) && (extentEnd < end) {
		end = extentEnd
	}

	if end <= start {
		return
	}

	reqOffset = start - req.FileOffset
	extOffset = start - extentFileOffset
	length = end - start
	ok = true

	return
}

// Covered returns the number of distinct bytes of the window delivered so far.
func (req *ReadRequestStruct) Covered() uint64 {
	return req.coverage.covered
}

// delivered returns how many bytes of [0, expected) of the window have been
// filled. Bytes beyond an EOF cap do not count.
func (req *ReadRequestStruct) delivered() uint64 {
	return req.coverage.coveredBelow(req.expected)
}

// filled reports whether every byte the request can expect has been delivered.
func (req *ReadRequestStruct) filled() bool {
	return req.delivered() == req.expected
}

// coverageStruct tracks which bytes of a request's window have been filled as a
// set of merged, non-adjacent [start, end) intervals relative to FileOffset.
type coverageStruct struct {
	intervals sortedmap.LLRBTree // key: start (uint64); value: end (uint64)
	covered   uint64
}

func (coverage *coverageStruct) init() {
	coverage.intervals = sortedmap.NewLLRBTree(sortedmap.CompareUint64, coverage)
	coverage.covered = 0
}

// add merges [start, end) into the set and returns how many of its bytes were not
// already present.
func (coverage *coverageStruct) add(start uint64, end uint64) (added uint64) {
	var (
		alreadyCovered uint64
		err            error
		index          int
		intervalEnd    uint64
		intervalStart  uint64
		ok             bool
	)

	mergedStart := start
	mergedEnd := end

	index, _, err = coverage.intervals.BisectLeft(start)
	if nil != err {
		logger.Fatalf("coverage BisectLeft(%d) failed: %v", start, err)
	}

	if 0 <= index {
		intervalStart, intervalEnd, ok = coverage.getByIndex(index)
		if !ok || (intervalEnd < start) {
			// Predecessor neither overlaps nor touches [start, end)
			index++
		}
	} else {
		index = 0
	}

	for {
		intervalStart, intervalEnd, ok = coverage.getByIndex(index)
		if !ok || (intervalStart > mergedEnd) {
			break
		}

		alreadyCovered += overlap(intervalStart, intervalEnd, start, end)

		if intervalStart < mergedStart {
			mergedStart = intervalStart
		}
		if intervalEnd > mergedEnd {
			mergedEnd = intervalEnd
		}

		ok, err = coverage.intervals.DeleteByIndex(index)
		if nil != err {
			logger.Fatalf("coverage DeleteByIndex(%d) failed: %v", index, err)
		}
		if !ok {
			logger.Fatalf("coverage DeleteByIndex(%d) returned !ok", index)
		}
	}

	ok, err = coverage.intervals.Put(mergedStart, mergedEnd)
	if nil != err {
		logger.Fatalf("coverage Put(%d) failed: %v", mergedStart, err)
	}
	if !ok {
		logger.Fatalf("coverage Put(%d) returned !ok", mergedStart)
	}

	added = (end - start) - alreadyCovered
	coverage.covered += added

	return
}

// coveredBelow returns how many distinct bytes of [0, limit) are present.
func (coverage *coverageStruct) coveredBelow(limit uint64) (covered uint64) {
	if 0 == coverage.covered {
		return
	}

	numIntervals, err := coverage.intervals.Len()
	if nil != err {
		logger.Fatalf("coverage Len() failed: %v", err)
	}

	for index := 0; index < numIntervals; index++ {
		start, end, ok := coverage.getByIndex(index)
		if !ok || (start >= limit) {
			break
		}
		covered += overlap(start, end, 0, limit)
	}

	return
}

func (coverage *coverageStruct) getByIndex(index int) (start uint64, end uint64, ok bool) {
	key, value, ok, err := coverage.intervals.GetByIndex(index)
	if nil != err {
		logger.Fatalf("coverage GetByIndex(%d) failed: %v", index, err)
	}
	if ok {
		start = key.(uint64)
		end = value.(uint64)
	}
	return
}

func overlap(aStart uint64, aEnd uint64, bStart uint64, bEnd uint64) uint64 {
	if bStart > aStart {
		aStart = bStart
	}
	if bEnd < aEnd {
		aEnd = bEnd
	}
	if aEnd <= aStart {
		return 0
	}
	return aEnd - aStart
}

// DumpKey formats the Key (interval start) for coverageStruct.intervals
func (coverage *coverageStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsU64, ok := key.(uint64)
	if ok {
		keyAsString = fmt.Sprintf("0x%016X", keyAsU64)
	} else {
		err = fmt.Errorf("Failure of *coverageStruct.DumpKey(%v)", key)
	}
	return
}

// DumpValue formats the Value (interval end) for coverageStruct.intervals
func (coverage *coverageStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsU64, ok := value.(uint64)
	if ok {
		valueAsString = fmt.Sprintf("0x%016X", valueAsU64)
	} else {
		err = fmt.Errorf("Failure of *coverageStruct.DumpValue(%v)", value)
	}
	return
}
