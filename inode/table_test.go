// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package inode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/extent"
)

// memStoreStruct is an AttrStore kept in a map
type memStoreStruct struct {
	sync.Mutex
	attrs    map[GFID]FileAttrStruct
	persists int
	deletes  int
}

func newMemStore() *memStoreStruct {
	return &memStoreStruct{attrs: make(map[GFID]FileAttrStruct)}
}

func (store *memStoreStruct) PersistAttr(gfid GFID, attr *FileAttrStruct) (err error) {
	store.Lock()
	store.attrs[gfid] = *attr
	store.persists++
	store.Unlock()
	return
}

func (store *memStoreStruct) LoadAttr(gfid GFID) (attr *FileAttrStruct, err error) {
	store.Lock()
	defer store.Unlock()
	stored, ok := store.attrs[gfid]
	if !ok {
		err = blunder.NewError(blunder.NotFoundError, "no attrs for %d", gfid)
		return
	}
	attr = &stored
	return
}

func (store *memStoreStruct) DeleteAttr(gfid GFID) (err error) {
	store.Lock()
	delete(store.attrs, gfid)
	store.deletes++
	store.Unlock()
	return
}

func TestCreateUnlink(t *testing.T) {
	assert := assert.New(t)

	table := NewTable(nil)

	err := table.Create(7, &FileAttrStruct{Filename: "/burst/seven", Mode: 0644})
	assert.Nil(err)

	err = table.Create(7, &FileAttrStruct{Filename: "/burst/seven-again"})
	assert.True(blunder.Is(err, blunder.AlreadyExistsError))

	attr, err := table.GetAttr(7)
	assert.Nil(err)
	assert.Equal(GFID(7), attr.GFID)
	assert.Equal("/burst/seven", attr.Filename)

	err = table.Unlink(7)
	assert.Nil(err)

	_, err = table.GetAttr(7)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	err = table.Unlink(7)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	// gfid may be reused once unlinked
	err = table.Create(7, &FileAttrStruct{Filename: "/burst/seven-reborn"})
	assert.Nil(err)
	assert.Equal(1, table.Len())
}

func TestNotFound(t *testing.T) {
	assert := assert.New(t)

	table := NewTable(nil)

	assert.True(blunder.Is(table.UpdateAttr(1, &FileAttrStruct{}, AttrValidAll), blunder.NotFoundError))
	assert.True(blunder.Is(table.Truncate(1, 0), blunder.NotFoundError))
	assert.True(blunder.Is(table.AddExtents(1, nil), blunder.NotFoundError))

	_, err := table.GetExtentTree(1)
	assert.True(blunder.Is(err, blunder.NotFoundError))
	_, err = table.MaxExtentOffset(1)
	assert.True(blunder.Is(err, blunder.NotFoundError))
	_, err = table.FileSize(1)
	assert.True(blunder.Is(err, blunder.NotFoundError))
	_, _, err = table.QueryRange(1, 0, 1)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	assert.True(blunder.Is(table.Restore(1), blunder.NotSupportedError))
}

func TestPartialUpdate(t *testing.T) {
	assert := assert.New(t)

	table := NewTable(nil)

	created := time.Unix(1000, 0)
	modified := time.Unix(2000, 0)

	assert.Nil(table.Create(3, &FileAttrStruct{
		Filename: "/burst/three",
		Mode:     0600,
		UID:      10,
		GID:      20,
		Size:     0,
		CTime:    created,
		MTime:    created,
	}))

	assert.Nil(table.MetaSet(3, false, &FileAttrStruct{
		GFID:     99, // never applied
		Filename: "ignored",
		Mode:     0755,
		MTime:    modified,
		Size:     4096,
	}, AttrValidMode|AttrValidMTime))

	attr, err := table.GetAttr(3)
	assert.Nil(err)
	assert.Equal(GFID(3), attr.GFID)
	assert.Equal("/burst/three", attr.Filename)
	assert.Equal(uint32(0755), attr.Mode)
	assert.Equal(uint32(10), attr.UID)
	assert.Equal(uint32(20), attr.GID)
	assert.Equal(uint64(0), attr.Size)
	assert.True(created.Equal(attr.CTime))
	assert.True(modified.Equal(attr.MTime))

	assert.True(blunder.Is(table.MetaSet(3, true, &FileAttrStruct{}, AttrValidAll), blunder.AlreadyExistsError))
	assert.Nil(table.MetaSet(4, true, &FileAttrStruct{Filename: "/burst/four"}, AttrValidAll))
	assert.Equal([]GFID{3, 4}, table.List())
}

func TestExtentsAndTruncate(t *testing.T) {
	assert := assert.New(t)

	table := NewTable(nil)
	assert.Nil(table.Create(5, &FileAttrStruct{Filename: "/burst/five"}))

	a := extent.LocationStruct{ServerID: 0, LogID: 1, LogOffset: 0}
	b := extent.LocationStruct{ServerID: 1, LogID: 1, LogOffset: 0}

	assert.Nil(table.AddExtents(5, []extent.EntryStruct{{FileOffset: 0, Length: 100, Location: a}}))
	assert.Nil(table.AddExtents(5, []extent.EntryStruct{{FileOffset: 40, Length: 20, Location: b}}))

	err := table.AddExtents(5, []extent.EntryStruct{{FileOffset: 200, Length: 0, Location: b}})
	assert.True(blunder.Is(err, blunder.InvalidRangeError))

	maxOffset, err := table.MaxExtentOffset(5)
	assert.Nil(err)
	assert.Equal(uint64(100), maxOffset)

	size, err := table.FileSize(5)
	assert.Nil(err)
	assert.Equal(uint64(100), size)

	snapshot, err := table.GetExtentTree(5)
	assert.Nil(err)
	assert.Equal(3, snapshot.Len())

	entries, fileSize, err := table.QueryRange(5, 50, 20)
	assert.Nil(err)
	assert.Equal(uint64(100), fileSize)
	assert.Equal([]extent.EntryStruct{
		{FileOffset: 50, Length: 10, Location: b, LocationOffset: 10},
		{FileOffset: 60, Length: 10, Location: a, LocationOffset: 60},
	}, entries)

	assert.Nil(table.Truncate(5, 50))

	maxOffset, err = table.MaxExtentOffset(5)
	assert.Nil(err)
	assert.Equal(uint64(50), maxOffset)

	attr, err := table.GetAttr(5)
	assert.Nil(err)
	assert.Equal(uint64(50), attr.Size)

	// The earlier snapshot is independent of the live tree
	assert.Equal(3, snapshot.Len())
	assert.Equal(uint64(100), snapshot.MaxCoveredOffset())

	// Growing truncate leaves a hole past the last extent
	assert.Nil(table.Truncate(5, 1000))
	size, err = table.FileSize(5)
	assert.Nil(err)
	assert.Equal(uint64(1000), size)

	assert.Nil(table.UpdateAttr(5, &FileAttrStruct{IsLaminated: true}, AttrValidLaminated))
	assert.True(blunder.Is(table.Truncate(5, 0), blunder.LaminatedError))
	err = table.AddExtents(5, []extent.EntryStruct{{FileOffset: 0, Length: 1, Location: a}})
	assert.True(blunder.Is(err, blunder.LaminatedError))

	assert.Nil(table.Unlink(5))
	_, err = table.GetExtentTree(5)
	assert.True(blunder.Is(err, blunder.NotFoundError))
}

func TestAttrStoreWriteThrough(t *testing.T) {
	assert := assert.New(t)

	store := newMemStore()
	table := NewTable(store)

	assert.Nil(table.Create(11, &FileAttrStruct{Filename: "/burst/eleven", Mode: 0640}))
	assert.Nil(table.UpdateAttr(11, &FileAttrStruct{UID: 42}, AttrValidUID))
	assert.Nil(table.Truncate(11, 123))
	assert.Equal(3, store.persists)

	stored, err := store.LoadAttr(11)
	assert.Nil(err)
	assert.Equal(GFID(11), stored.GFID)
	assert.Equal(uint32(42), stored.UID)
	assert.Equal(uint64(123), stored.Size)

	// A fresh table (e.g. after a restart) can recover the attributes
	restarted := NewTable(store)
	assert.Nil(restarted.Restore(11))
	attr, err := restarted.GetAttr(11)
	assert.Nil(err)
	assert.Equal("/burst/eleven", attr.Filename)
	assert.Equal(uint64(123), attr.Size)
	assert.True(blunder.Is(restarted.Restore(11), blunder.AlreadyExistsError))

	assert.Nil(table.Unlink(11))
	assert.Equal(1, store.deletes)
	assert.True(blunder.Is(restarted.Restore(12), blunder.NotFoundError))
	_, err = store.LoadAttr(11)
	assert.True(blunder.Is(err, blunder.NotFoundError))
}

// gatedStoreStruct is a memStoreStruct whose next PersistAttr or DeleteAttr,
// once armed, signals entered and then blocks until release is closed.
type gatedStoreStruct struct {
	*memStoreStruct
	gateLock sync.Mutex
	armed    bool
	entered  chan struct{}
	release  chan struct{}
}

func newGatedStore() *gatedStoreStruct {
	return &gatedStoreStruct{memStoreStruct: newMemStore()}
}

func (store *gatedStoreStruct) arm() {
	store.gateLock.Lock()
	store.armed = true
	store.entered = make(chan struct{})
	store.release = make(chan struct{})
	store.gateLock.Unlock()
}

func (store *gatedStoreStruct) gate() {
	store.gateLock.Lock()
	armed := store.armed
	store.armed = false
	entered := store.entered
	release := store.release
	store.gateLock.Unlock()

	if armed {
		close(entered)
		<-release
	}
}

func (store *gatedStoreStruct) PersistAttr(gfid GFID, attr *FileAttrStruct) (err error) {
	store.gate()
	return store.memStoreStruct.PersistAttr(gfid, attr)
}

func (store *gatedStoreStruct) DeleteAttr(gfid GFID) (err error) {
	store.gate()
	return store.memStoreStruct.DeleteAttr(gfid)
}

func TestAttrStorePersistOrder(t *testing.T) {
	assert := assert.New(t)

	var wg sync.WaitGroup

	store := newGatedStore()
	table := NewTable(store)

	assert.Nil(table.Create(21, &FileAttrStruct{Filename: "/burst/old"}))

	// Two updates of the same file reach the store in the order applied

	store.arm()
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.Nil(table.UpdateAttr(21, &FileAttrStruct{Size: 100}, AttrValidSize))
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		assert.Nil(table.UpdateAttr(21, &FileAttrStruct{Size: 200}, AttrValidSize))
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	attr, err := table.GetAttr(21)
	assert.Nil(err)
	assert.Equal(uint64(200), attr.Size)
	stored, err := store.LoadAttr(21)
	assert.Nil(err)
	assert.Equal(uint64(200), stored.Size)

	// A re-Create racing a slow Unlink is not erased by the stale delete

	store.arm()
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.Nil(table.Unlink(21))
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		assert.Nil(table.Create(21, &FileAttrStruct{Filename: "/burst/new"}))
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	wg.Wait()

	attr, err = table.GetAttr(21)
	assert.Nil(err)
	assert.Equal("/burst/new", attr.Filename)
	stored, err = store.LoadAttr(21)
	if assert.Nil(err) {
		assert.Equal("/burst/new", stored.Filename)
	}
	assert.Equal(1, store.deletes)
}

func TestConcurrentExtentsAndLookups(t *testing.T) {
	const (
		numFiles   = 8
		numWriters = 4
		numWrites  = 200
	)

	assert := assert.New(t)

	table := NewTable(nil)
	for gfid := GFID(0); gfid < numFiles; gfid++ {
		assert.Nil(table.Create(gfid, &FileAttrStruct{}))
	}

	var wg sync.WaitGroup

	for w := 0; w < numWriters; w++ {
		wg.Add(1)
		go func(writer int) {
			defer wg.Done()
			for i := 0; i < numWrites; i++ {
				gfid := GFID(i % numFiles)
				entry := extent.EntryStruct{
					FileOffset: uint64(i * 10),
					Length:     10,
					Location:   extent.LocationStruct{ServerID: uint32(writer), LogOffset: uint64(i * 10)},
				}
				err := table.AddExtents(gfid, []extent.EntryStruct{entry})
				if nil != err {
					t.Errorf("AddExtents(%d) failed: %v", gfid, err)
					return
				}
				_, err = table.MaxExtentOffset(gfid)
				if nil != err {
					t.Errorf("MaxExtentOffset(%d) failed: %v", gfid, err)
					return
				}
			}
		}(w)
	}

	wg.Wait()

	for gfid := GFID(0); gfid < numFiles; gfid++ {
		tree, err := table.GetExtentTree(gfid)
		assert.Nil(err)
		assert.Nil(tree.Validate())
		assert.Equal(numWrites/numFiles, tree.Len())
	}
}
