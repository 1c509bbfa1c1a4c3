// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package extent

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/logger"
)

// CheckRange returns InvalidRangeError unless length > 0 and [offset, offset+length)
// fits in a uint64.
func CheckRange(offset uint64, length uint64) (err error) {
	if 0 == length {
		err = blunder.NewError(blunder.InvalidRangeError, "zero length range at offset 0x%016X", offset)
		return
	}
	if (offset + length) < offset {
		err = blunder.NewError(blunder.InvalidRangeError, "range [0x%016X,+0x%016X) overflows", offset, length)
		return
	}

	err = nil
	return
}

// Insert merges entries into the tree in slice order. Later entries win over earlier
// ones (and over anything already in the tree) for every byte they cover.
//
// The whole batch is checked before anything is inserted. If any entry has a zero
// Length or overflows, InvalidRangeError is returned and the tree is unchanged.
//
func (tree *TreeStruct) Insert(entries []EntryStruct) (err error) {
	for i := range entries {
		err = CheckRange(entries[i].FileOffset, entries[i].Length)
		if nil != err {
			return
		}
	}

	for i := range entries {
		newEntry := entries[i]
		tree.insert(&newEntry)
	}

	if logger.DebugEnabled("extent") {
		logger.Debugf("inserted %d entries; tree now holds %d", len(entries), tree.Len())
	}

	err = nil
	return
}

func (tree *TreeStruct) insert(newEntry *EntryStruct) {
	var (
		curEntry           *EntryStruct
		curEntryAsValue    sortedmap.Value
		curEntryIndex      int
		curEntryLostLength uint64
		err                error
		found              bool
		ok                 bool
		prevEntry          *EntryStruct
		prevEntryAsValue   sortedmap.Value
		prevEntryIndex     int
		prevEntryNewLength uint64
		splitEntry         *EntryStruct
	)

	// Locate prevEntry (if any)

	prevEntryIndex, found, err = tree.entries.BisectLeft(newEntry.FileOffset)
	if nil != err {
		logger.Fatalf("insert() couldn't find prevEntry [Case 1]: %v", err)
	}

	if found {
		// prevEntryIndex must name the entry before the one newEntry starts on top of

		prevEntryIndex--
	} else if 0 <= prevEntryIndex {
		_, prevEntryAsValue, ok, err = tree.entries.GetByIndex(prevEntryIndex)
		if nil != err {
			logger.Fatalf("insert() couldn't find prevEntry [Case 2]: %v", err)
		}
		if !ok {
			logger.Fatalf("insert() couldn't find prevEntry [Case 3]")
		}
		prevEntry, ok = prevEntryAsValue.(*EntryStruct)
		if !ok {
			logger.Fatalf("insert() couldn't find prevEntry [Case 4]")
		}

		if prevEntry.End() > newEntry.FileOffset {
			// prevEntry runs into newEntry... split off its tail so the loop below handles it

			prevEntryNewLength = newEntry.FileOffset - prevEntry.FileOffset

			splitEntry = &EntryStruct{
				FileOffset:     newEntry.FileOffset,
				Length:         prevEntry.Length - prevEntryNewLength,
				Location:       prevEntry.Location,
				LocationOffset: prevEntry.LocationOffset + prevEntryNewLength,
			}

			prevEntry.Length = prevEntryNewLength

			ok, err = tree.entries.Put(splitEntry.FileOffset, splitEntry)
			if nil != err {
				logger.Fatalf("insert() couldn't split prevEntry [Case 1]: %v", err)
			}
			if !ok {
				logger.Fatalf("insert() couldn't split prevEntry [Case 2]")
			}
		}
	}

	// Remove or trim every entry that starts inside newEntry

	curEntryIndex = prevEntryIndex + 1

	for {
		_, curEntryAsValue, ok, err = tree.entries.GetByIndex(curEntryIndex)
		if nil != err {
			logger.Fatalf("insert() couldn't find curEntry [Case 1]: %v", err)
		}
		if !ok {
			break
		}

		curEntry, ok = curEntryAsValue.(*EntryStruct)
		if !ok {
			logger.Fatalf("insert() couldn't find curEntry [Case 2]")
		}

		if newEntry.End() <= curEntry.FileOffset {
			break
		}

		// curEntry is either replaced or has its key moved, so it goes regardless

		ok, err = tree.entries.DeleteByIndex(curEntryIndex)
		if nil != err {
			logger.Fatalf("insert() couldn't delete curEntry [Case 1]: %v", err)
		}
		if !ok {
			logger.Fatalf("insert() couldn't delete curEntry [Case 2]")
		}

		if curEntry.End() > newEntry.End() {
			curEntryLostLength = newEntry.End() - curEntry.FileOffset

			splitEntry = &EntryStruct{
				FileOffset:     curEntry.FileOffset + curEntryLostLength,
				Length:         curEntry.Length - curEntryLostLength,
				Location:       curEntry.Location,
				LocationOffset: curEntry.LocationOffset + curEntryLostLength,
			}

			ok, err = tree.entries.Put(splitEntry.FileOffset, splitEntry)
			if nil != err {
				logger.Fatalf("insert() couldn't split curEntry [Case 1]: %v", err)
			}
			if !ok {
				logger.Fatalf("insert() couldn't split curEntry [Case 2]")
			}

			// Nothing beyond splitEntry can overlap newEntry

			break
		}
	}

	ok, err = tree.entries.Put(newEntry.FileOffset, newEntry)
	if nil != err {
		logger.Fatalf("insert() couldn't insert newEntry [Case 1]: %v", err)
	}
	if !ok {
		logger.Fatalf("insert() couldn't insert newEntry [Case 2]")
	}
}

func (tree *TreeStruct) getByIndex(index int) (entry *EntryStruct, ok bool) {
	_, entryAsValue, ok, err := tree.entries.GetByIndex(index)
	if nil != err {
		logger.Fatalf("getByIndex(%d) failed: %v", index, err)
	}
	if !ok {
		return
	}

	entry, ok = entryAsValue.(*EntryStruct)
	if !ok {
		logger.Fatalf("getByIndex(%d) found a non-*EntryStruct", index)
	}

	return
}

// Len returns the number of entries in the tree.
func (tree *TreeStruct) Len() (numEntries int) {
	numEntries, err := tree.entries.Len()
	if nil != err {
		logger.Fatalf("Len() failed: %v", err)
	}
	return
}

// MaxCoveredOffset returns the offset just past the last written byte, or 0 for an
// empty tree.
func (tree *TreeStruct) MaxCoveredOffset() (maxOffset uint64) {
	numEntries := tree.Len()
	if 0 == numEntries {
		return
	}

	// Entries don't overlap, so the last one ends furthest out

	lastEntry, _ := tree.getByIndex(numEntries - 1)
	maxOffset = lastEntry.End()

	return
}

// QueryRange returns, in ascending FileOffset order, every entry intersecting
// [offset, offset+length), each clipped to that window. Unwritten bytes have no entry.
func (tree *TreeStruct) QueryRange(offset uint64, length uint64) (entries []EntryStruct, err error) {
	var (
		clipFront uint64
		curEntry  *EntryStruct
		index     int
		ok        bool
		windowEnd uint64
	)

	err = CheckRange(offset, length)
	if nil != err {
		return
	}

	windowEnd = offset + length
	entries = make([]EntryStruct, 0, 1)

	index, _, err = tree.entries.BisectLeft(offset)
	if nil != err {
		logger.Fatalf("QueryRange() BisectLeft(0x%016X) failed: %v", offset, err)
	}
	if 0 > index {
		index = 0
	}

	for {
		curEntry, ok = tree.getByIndex(index)
		if !ok {
			break
		}
		index++

		if curEntry.FileOffset >= windowEnd {
			break
		}
		if curEntry.End() <= offset {
			// Only possible for the entry BisectLeft returned
			continue
		}

		clipped := *curEntry

		if clipped.FileOffset < offset {
			clipFront = offset - clipped.FileOffset
			clipped.FileOffset = offset
			clipped.Length -= clipFront
			clipped.LocationOffset += clipFront
		}
		if clipped.End() > windowEnd {
			clipped.Length = windowEnd - clipped.FileOffset
		}

		entries = append(entries, clipped)
	}

	err = nil
	return
}

// Truncate drops every byte at or beyond size.
func (tree *TreeStruct) Truncate(size uint64) {
	var (
		err   error
		index int
		ok    bool
	)

	// First, destroy any entries starting at or beyond size

	index, _, err = tree.entries.BisectRight(size)
	if nil != err {
		logger.Fatalf("Truncate() BisectRight(0x%016X) failed: %v", size, err)
	}

	ok = true
	for ok {
		ok, err = tree.entries.DeleteByIndex(index)
		if nil != err {
			logger.Fatalf("Truncate() DeleteByIndex(%d) failed: %v", index, err)
		}
	}

	// Next, trim the (new) trailing entry

	index--
	if 0 > index {
		return
	}

	lastEntry, _ := tree.getByIndex(index)
	if lastEntry.End() > size {
		lastEntry.Length = size - lastEntry.FileOffset
	}
}

// Entries returns a copy of every entry in FileOffset order.
func (tree *TreeStruct) Entries() (entries []EntryStruct) {
	numEntries := tree.Len()

	entries = make([]EntryStruct, 0, numEntries)

	for index := 0; index < numEntries; index++ {
		entry, _ := tree.getByIndex(index)
		entries = append(entries, *entry)
	}

	return
}

// Clone returns an independent copy of the tree.
func (tree *TreeStruct) Clone() (clone *TreeStruct) {
	clone = NewTree()

	for _, entry := range tree.Entries() {
		entryCopy := entry
		ok, err := clone.entries.Put(entryCopy.FileOffset, &entryCopy)
		if nil != err {
			logger.Fatalf("Clone() Put() failed: %v", err)
		}
		if !ok {
			logger.Fatalf("Clone() Put() found duplicate key 0x%016X", entryCopy.FileOffset)
		}
	}

	return
}

// Reset discards every entry.
func (tree *TreeStruct) Reset() {
	tree.entries.Reset()
}

// Validate checks the underlying sortedmap and that entries are non-empty and
// non-overlapping.
func (tree *TreeStruct) Validate() (err error) {
	err = tree.entries.Validate()
	if nil != err {
		return
	}

	var prevEnd uint64

	for index, entry := range tree.Entries() {
		if 0 == entry.Length {
			err = fmt.Errorf("entry %d %v has zero length", index, &entry)
			return
		}
		if (0 < index) && (entry.FileOffset < prevEnd) {
			err = fmt.Errorf("entry %d %v overlaps its predecessor ending at 0x%016X", index, &entry, prevEnd)
			return
		}
		prevEnd = entry.End()
	}

	return
}

// Dump writes the tree to stdout.
func (tree *TreeStruct) Dump() (err error) {
	err = tree.entries.Dump()
	return
}
