// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package attrstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/inode"
)

func TestPersistLoadDelete(t *testing.T) {
	assert := assert.New(t)

	dbPath := filepath.Join(t.TempDir(), "attrs.db")

	store, err := OpenBoltStore(dbPath, 4)
	if !assert.Nil(err) {
		t.FailNow()
	}

	mtime := time.Unix(1600000000, 123456789)

	attr := &inode.FileAttrStruct{
		Filename:    "/burst/ckpt.0",
		Mode:        0100644,
		UID:         1000,
		GID:         1000,
		Size:        1 << 30,
		MTime:       mtime,
		IsLaminated: true,
	}

	assert.Nil(store.PersistAttr(-5, attr))
	assert.Nil(store.PersistAttr(9, &inode.FileAttrStruct{}))
	assert.Nil(store.PersistAttr(2, &inode.FileAttrStruct{Filename: "/burst/two"}))

	loaded, err := store.LoadAttr(-5)
	assert.Nil(err)
	assert.Equal(inode.GFID(-5), loaded.GFID)
	assert.Equal("/burst/ckpt.0", loaded.Filename)
	assert.Equal(uint32(0100644), loaded.Mode)
	assert.Equal(uint64(1<<30), loaded.Size)
	assert.True(mtime.Equal(loaded.MTime))
	assert.True(loaded.ATime.IsZero())
	assert.True(loaded.IsLaminated)

	_, err = store.LoadAttr(77)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	var gfids []inode.GFID
	err = store.ForEach(func(attr *inode.FileAttrStruct) error {
		gfids = append(gfids, attr.GFID)
		return nil
	})
	assert.Nil(err)
	assert.Equal([]inode.GFID{-5, 2, 9}, gfids)

	assert.Nil(store.DeleteAttr(2))
	_, err = store.LoadAttr(2)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	assert.Nil(store.Close())

	// Reopen without a cache so records come from disk
	store, err = OpenBoltStore(dbPath, 0)
	if !assert.Nil(err) {
		t.FailNow()
	}

	loaded, err = store.LoadAttr(-5)
	assert.Nil(err)
	assert.Equal("/burst/ckpt.0", loaded.Filename)
	assert.True(mtime.Equal(loaded.MTime))

	loaded, err = store.LoadAttr(9)
	assert.Nil(err)
	assert.Equal("", loaded.Filename)

	_, err = store.LoadAttr(2)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	assert.Nil(store.Close())
}

func TestTableWriteThrough(t *testing.T) {
	assert := assert.New(t)

	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "attrs.db"), 16)
	if !assert.Nil(err) {
		t.FailNow()
	}
	defer store.Close()

	table := inode.NewTable(store)

	assert.Nil(table.Create(1, &inode.FileAttrStruct{Filename: "/burst/a", Mode: 0600}))
	assert.Nil(table.UpdateAttr(1, &inode.FileAttrStruct{Size: 4096}, inode.AttrValidSize))

	restarted := inode.NewTable(store)
	assert.Nil(restarted.Restore(1))

	attr, err := restarted.GetAttr(1)
	assert.Nil(err)
	assert.Equal("/burst/a", attr.Filename)
	assert.Equal(uint64(4096), attr.Size)

	assert.Nil(table.Unlink(1))
	_, err = store.LoadAttr(1)
	assert.True(blunder.Is(err, blunder.NotFoundError))
}
