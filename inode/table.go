// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"fmt"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/extent"
	"github.com/NVIDIA/burstfs/logger"
)

func compareGFID(key1 sortedmap.Key, key2 sortedmap.Key) (result int, err error) {
	key1GFID, ok := key1.(GFID)
	if !ok {
		err = fmt.Errorf("compareGFID(non-GFID,) not supported")
		return
	}
	key2GFID, ok := key2.(GFID)
	if !ok {
		err = fmt.Errorf("compareGFID(GFID, non-GFID) not supported")
		return
	}

	if key1GFID < key2GFID {
		result = -1
	} else if key1GFID == key2GFID {
		result = 0
	} else {
		result = 1
	}

	err = nil
	return
}

// DumpKey formats the Key (GFID) for TableStruct.inodes
func (table *TableStruct) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	gfid, ok := key.(GFID)
	if ok {
		keyAsString = fmt.Sprintf("%d", gfid)
	} else {
		err = fmt.Errorf("Failure of *TableStruct.DumpKey(%v)", key)
	}
	return
}

// DumpValue formats the Value (*inodeStruct) for TableStruct.inodes
func (table *TableStruct) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	inode, ok := value.(*inodeStruct)
	if ok {
		valueAsString = fmt.Sprintf("{gfid:%d,filename:%q}", inode.gfid, inode.attr.Filename)
	} else {
		err = fmt.Errorf("Failure of *TableStruct.DumpValue(%v)", value)
	}
	return
}

func notFound(gfid GFID) error {
	return blunder.NewError(blunder.NotFoundError, "gfid %d not found", gfid)
}

// lookup returns the Inode for gfid. The table lock is released before returning,
// so callers must check inode.unlinked once they hold the Inode's own lock.
func (table *TableStruct) lookup(gfid GFID) (inode *inodeStruct, err error) {
	table.RLock()
	inodeAsValue, ok, err := table.inodes.GetByKey(gfid)
	table.RUnlock()

	if nil != err {
		logger.Fatalf("lookup(%d) GetByKey() failed: %v", gfid, err)
	}
	if !ok {
		err = notFound(gfid)
		return
	}

	inode, ok = inodeAsValue.(*inodeStruct)
	if !ok {
		logger.Fatalf("lookup(%d) found a non-*inodeStruct", gfid)
	}

	return
}

// persistAttrAndUnlock writes attr through to the AttrStore and releases
// table.persistLock, which the caller took while still holding the lock that
// ordered the mutation.
func (table *TableStruct) persistAttrAndUnlock(gfid GFID, attr *FileAttrStruct) (err error) {
	defer table.persistLock.Unlock()

	if nil == table.store {
		return
	}

	err = table.store.PersistAttr(gfid, attr)
	if nil != err {
		logger.ErrorfWithError(err, "PersistAttr(%d) failed", gfid)
	}

	return
}

// insertInode adds a new Inode for gfid. If persist is set, table.persistLock is
// held on successful return.
func (table *TableStruct) insertInode(gfid GFID, attr *FileAttrStruct, persist bool) (attrCopy FileAttrStruct, err error) {
	inode := &inodeStruct{
		gfid:    gfid,
		attr:    *attr,
		extents: extent.NewTree(),
	}
	inode.attr.GFID = gfid

	attrCopy = inode.attr

	table.Lock()

	_, found, err := table.inodes.GetByKey(gfid)
	if nil != err {
		logger.Fatalf("Create(%d) GetByKey() failed: %v", gfid, err)
	}
	if found {
		table.Unlock()
		err = blunder.NewError(blunder.AlreadyExistsError, "gfid %d already exists", gfid)
		return
	}

	ok, err := table.inodes.Put(gfid, inode)
	if nil != err {
		logger.Fatalf("Create(%d) Put() failed: %v", gfid, err)
	}
	if !ok {
		logger.Fatalf("Create(%d) Put() returned !ok", gfid)
	}

	if persist {
		table.persistLock.Lock()
	}

	table.Unlock()

	return
}

// Create adds a new Inode with an empty extent tree.
//
// AlreadyExistsError is returned if gfid is already live.
//
func (table *TableStruct) Create(gfid GFID, attr *FileAttrStruct) (err error) {
	attrCopy, err := table.insertInode(gfid, attr, true)
	if nil != err {
		return
	}

	logger.Tracef("created gfid %d (%q)", gfid, attrCopy.Filename)

	err = table.persistAttrAndUnlock(gfid, &attrCopy)

	return
}

// Restore recreates the Inode for gfid from the AttrStore. Extents are not
// persisted and start out empty.
func (table *TableStruct) Restore(gfid GFID) (err error) {
	if nil == table.store {
		err = blunder.NewError(blunder.NotSupportedError, "Restore(%d) without an AttrStore", gfid)
		return
	}

	attr, err := table.store.LoadAttr(gfid)
	if nil != err {
		return
	}

	_, err = table.insertInode(gfid, attr, false)
	if nil == err {
		logger.Tracef("restored gfid %d (%q)", gfid, attr.Filename)
	}

	return
}

// UpdateAttr overwrites the fields of the gfid's attributes selected by valid.
func (table *TableStruct) UpdateAttr(gfid GFID, attr *FileAttrStruct, valid AttrValid) (err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.Lock()
	if inode.unlinked {
		inode.Unlock()
		err = notFound(gfid)
		return
	}
	inode.attr.Update(attr, valid)
	attrCopy := inode.attr
	table.persistLock.Lock()
	inode.Unlock()

	err = table.persistAttrAndUnlock(gfid, &attrCopy)

	return
}

// MetaSet creates gfid (if create is set) or else updates its attributes.
func (table *TableStruct) MetaSet(gfid GFID, create bool, attr *FileAttrStruct, valid AttrValid) (err error) {
	if create {
		err = table.Create(gfid, attr)
	} else {
		err = table.UpdateAttr(gfid, attr, valid)
	}
	return
}

// GetAttr returns a copy of the gfid's attributes.
func (table *TableStruct) GetAttr(gfid GFID) (attr FileAttrStruct, err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.RLock()
	if inode.unlinked {
		inode.RUnlock()
		err = notFound(gfid)
		return
	}
	attr = inode.attr
	inode.RUnlock()

	return
}

// Unlink removes gfid from the table and discards its extents.
func (table *TableStruct) Unlink(gfid GFID) (err error) {
	var (
		inode *inodeStruct
	)

	table.Lock()

	inodeAsValue, ok, err := table.inodes.GetByKey(gfid)
	if nil != err {
		logger.Fatalf("Unlink(%d) GetByKey() failed: %v", gfid, err)
	}
	if !ok {
		table.Unlock()
		err = notFound(gfid)
		return
	}

	ok, err = table.inodes.DeleteByKey(gfid)
	if nil != err {
		logger.Fatalf("Unlink(%d) DeleteByKey() failed: %v", gfid, err)
	}
	if !ok {
		logger.Fatalf("Unlink(%d) DeleteByKey() returned !ok", gfid)
	}

	inode = inodeAsValue.(*inodeStruct)

	// Waits out any reader or writer that looked gfid up before it was removed.
	// The table lock stays held so a re-Create of gfid persists after the delete.

	inode.Lock()
	inode.unlinked = true
	inode.extents.Reset()
	table.persistLock.Lock()
	inode.Unlock()
	table.Unlock()

	logger.Tracef("unlinked gfid %d", gfid)

	defer table.persistLock.Unlock()

	if nil != table.store {
		err = table.store.DeleteAttr(gfid)
		if nil != err {
			logger.ErrorfWithError(err, "DeleteAttr(%d) failed", gfid)
		}
	}

	return
}

// Truncate drops every extent byte at or beyond size and sets the file size to size.
//
// Laminated files cannot be truncated.
//
func (table *TableStruct) Truncate(gfid GFID, size uint64) (err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.Lock()
	if inode.unlinked {
		inode.Unlock()
		err = notFound(gfid)
		return
	}
	if inode.attr.IsLaminated {
		inode.Unlock()
		err = blunder.NewError(blunder.LaminatedError, "gfid %d is laminated", gfid)
		return
	}
	inode.extents.Truncate(size)
	inode.attr.Size = size
	attrCopy := inode.attr
	table.persistLock.Lock()
	inode.Unlock()

	logger.Tracef("truncated gfid %d to 0x%016X", gfid, size)

	err = table.persistAttrAndUnlock(gfid, &attrCopy)

	return
}

// GetExtentTree returns a point-in-time copy of the gfid's extent tree.
func (table *TableStruct) GetExtentTree(gfid GFID) (tree *extent.TreeStruct, err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.RLock()
	if inode.unlinked {
		inode.RUnlock()
		err = notFound(gfid)
		return
	}
	tree = inode.extents.Clone()
	inode.RUnlock()

	return
}

// AddExtents merges newly written entries into gfid's extent tree. Entries must be
// supplied in the order their writes were committed.
func (table *TableStruct) AddExtents(gfid GFID, entries []extent.EntryStruct) (err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.Lock()
	if inode.unlinked {
		inode.Unlock()
		err = notFound(gfid)
		return
	}
	if inode.attr.IsLaminated {
		inode.Unlock()
		err = blunder.NewError(blunder.LaminatedError, "gfid %d is laminated", gfid)
		return
	}
	err = inode.extents.Insert(entries)
	inode.Unlock()

	if nil == err {
		logger.Tracef("added %d extents to gfid %d", len(entries), gfid)
	}

	return
}

// MaxExtentOffset returns the end of the last written byte of gfid.
func (table *TableStruct) MaxExtentOffset(gfid GFID) (maxOffset uint64, err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.RLock()
	if inode.unlinked {
		inode.RUnlock()
		err = notFound(gfid)
		return
	}
	maxOffset = inode.extents.MaxCoveredOffset()
	inode.RUnlock()

	return
}

// FileSize returns the larger of the recorded size and MaxExtentOffset.
func (table *TableStruct) FileSize(gfid GFID) (size uint64, err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.RLock()
	if inode.unlinked {
		inode.RUnlock()
		err = notFound(gfid)
		return
	}
	size = inode.attr.Size
	if maxOffset := inode.extents.MaxCoveredOffset(); maxOffset > size {
		size = maxOffset
	}
	inode.RUnlock()

	return
}

// QueryRange returns the gfid's extents intersecting [offset, offset+length), clipped
// to that window, along with the file size observed at the same instant.
func (table *TableStruct) QueryRange(gfid GFID, offset uint64, length uint64) (entries []extent.EntryStruct, fileSize uint64, err error) {
	inode, err := table.lookup(gfid)
	if nil != err {
		return
	}

	inode.RLock()
	if inode.unlinked {
		inode.RUnlock()
		err = notFound(gfid)
		return
	}
	entries, err = inode.extents.QueryRange(offset, length)
	fileSize = inode.attr.Size
	if maxOffset := inode.extents.MaxCoveredOffset(); maxOffset > fileSize {
		fileSize = maxOffset
	}
	inode.RUnlock()

	return
}

// List returns the live GFIDs in ascending order.
func (table *TableStruct) List() (gfids []GFID) {
	table.RLock()
	defer table.RUnlock()

	numInodes, err := table.inodes.Len()
	if nil != err {
		logger.Fatalf("List() Len() failed: %v", err)
	}

	gfids = make([]GFID, 0, numInodes)

	for index := 0; index < numInodes; index++ {
		key, _, ok, err := table.inodes.GetByIndex(index)
		if nil != err {
			logger.Fatalf("List() GetByIndex(%d) failed: %v", index, err)
		}
		if !ok {
			logger.Fatalf("List() GetByIndex(%d) returned !ok", index)
		}
		gfids = append(gfids, key.(GFID))
	}

	return
}

// Len returns the number of live Inodes.
func (table *TableStruct) Len() (numInodes int) {
	table.RLock()
	numInodes, err := table.inodes.Len()
	table.RUnlock()

	if nil != err {
		logger.Fatalf("Len() failed: %v", err)
	}

	return
}
