// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package extent records, per file, which byte ranges have been written and where
// the bytes for each range live.
//
// A TreeStruct holds non-overlapping EntryStructs ordered by FileOffset. Inserting
// an entry that overlaps existing ones replaces the overlapped bytes (newest write
// wins) while the surviving portions of older entries keep their Location.
//
// A TreeStruct is not internally synchronized. Its owner (see package inode)
// serializes access with its own lock.
//
package extent

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"
)

// LocationStruct identifies where the bytes of an extent are stored.
//
// The tree never interprets a LocationStruct. It is copied verbatim into every
// fragment produced by a split or a clip.
//
type LocationStruct struct {
	ServerID  uint32 // server whose log holds the bytes
	LogID     uint64 // log segment on that server
	LogOffset uint64 // offset in that log segment of the originally written first byte
}

// EntryStruct maps [FileOffset, FileOffset+Length) to Location.
//
// LocationOffset is the distance from the first byte described by Location to the
// first byte of this entry. It starts at zero and grows whenever the front of an
// entry is split or clipped away.
//
type EntryStruct struct {
	FileOffset     uint64
	Length         uint64
	Location       LocationStruct
	LocationOffset uint64
}

// TreeStruct is an ordered, non-overlapping collection of EntryStructs.
type TreeStruct struct {
	entries sortedmap.LLRBTree // key: FileOffset (uint64); value: *EntryStruct
}

// NewTree returns an empty TreeStruct.
func NewTree() (tree *TreeStruct) {
	tree = &TreeStruct{}
	tree.entries = sortedmap.NewLLRBTree(sortedmap.CompareUint64, tree)
	return
}

// End returns the offset just past the last byte of the entry.
func (entry *EntryStruct) End() uint64 {
	return entry.FileOffset + entry.Length
}

func (entry *EntryStruct) String() string {
	return fmt.Sprintf("[0x%016X,+0x%016X)->{server:%d,log:0x%016X,logOffset:0x%016X}+0x%016X",
		entry.FileOffset, entry.Length,
		entry.Location.ServerID, entry.Location.LogID, entry.Location.LogOffset,
		entry.LocationOffset)
}

// DumpKey formats the Key (EntryStruct.FileOffset) for TreeStruct.entries
func (tree *TreeStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsU64, ok := key.(uint64)
	if ok {
		keyAsString = fmt.Sprintf("0x%016X", keyAsU64)
	} else {
		err = fmt.Errorf("Failure of *TreeStruct.DumpKey(%v)", key)
	}

	return
}

// DumpValue formats the Value (*EntryStruct) for TreeStruct.entries
func (tree *TreeStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	entry, ok := value.(*EntryStruct)
	if ok {
		valueAsString = entry.String()
	} else {
		err = fmt.Errorf("Failure of *TreeStruct.DumpValue(%v)", value)
	}

	return
}
