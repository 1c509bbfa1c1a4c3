// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package inode provides the per-file metadata of burstfs: attributes plus the
// extent.TreeStruct recording where each written byte range lives.
//
// A TableStruct owns every Inode keyed by GFID. Inserting or removing an Inode
// takes the table lock. Operating on an existing Inode takes only that Inode's
// RW lock. No operation holds both at once.
//
package inode

import (
	"sync"
	"time"

	"github.com/NVIDIA/sortedmap"

	"github.com/NVIDIA/burstfs/extent"
)

// GFID is the global file identifier, unique per live file across the system.
type GFID int32

// FileAttrStruct holds the attributes of a file.
type FileAttrStruct struct {
	GFID        GFID
	Filename    string
	Mode        uint32
	UID         uint32
	GID         uint32
	Size        uint64
	ATime       time.Time
	MTime       time.Time
	CTime       time.Time
	IsLaminated bool
}

// AttrValid selects which FileAttrStruct fields an update overwrites.
type AttrValid uint32

const (
	AttrValidFilename AttrValid = 1 << iota
	AttrValidMode
	AttrValidUID
	AttrValidGID
	AttrValidSize
	AttrValidATime
	AttrValidMTime
	AttrValidCTime
	AttrValidLaminated

	AttrValidAll = AttrValidFilename | AttrValidMode | AttrValidUID | AttrValidGID | AttrValidSize |
		AttrValidATime | AttrValidMTime | AttrValidCTime | AttrValidLaminated
)

// AttrStore persists file attributes on behalf of a TableStruct.
//
// LoadAttr must return a blunder.NotFoundError when gfid has no record.
//
type AttrStore interface {
	PersistAttr(gfid GFID, attr *FileAttrStruct) (err error)
	LoadAttr(gfid GFID) (attr *FileAttrStruct, err error)
	DeleteAttr(gfid GFID) (err error)
}

type inodeStruct struct {
	sync.RWMutex
	gfid     GFID
	attr     FileAttrStruct
	extents  *extent.TreeStruct
	unlinked bool // set under the write lock once removed from the table
}

// TableStruct is the ordered collection of live Inodes.
type TableStruct struct {
	sync.RWMutex
	inodes sortedmap.LLRBTree // key: GFID; value: *inodeStruct
	store  AttrStore          // nil if attributes are not persisted

	// persistLock orders AttrStore calls. It is taken before the table or inode
	// lock covering the mutation is released, so records reach the store in the
	// order the mutations were applied. Lock order: table, inode, persistLock.
	persistLock sync.Mutex
}

// NewTable returns an empty TableStruct. If store is non-nil, attribute changes are
// written through to it.
func NewTable(store AttrStore) (table *TableStruct) {
	table = &TableStruct{store: store}
	table.inodes = sortedmap.NewLLRBTree(compareGFID, table)
	return
}

// Update overwrites the fields of attr selected by valid with those of update.
// GFID is never changed.
func (attr *FileAttrStruct) Update(update *FileAttrStruct, valid AttrValid) {
	if 0 != valid&AttrValidFilename {
		attr.Filename = update.Filename
	}
	if 0 != valid&AttrValidMode {
		attr.Mode = update.Mode
	}
	if 0 != valid&AttrValidUID {
		attr.UID = update.UID
	}
	if 0 != valid&AttrValidGID {
		attr.GID = update.GID
	}
	if 0 != valid&AttrValidSize {
		attr.Size = update.Size
	}
	if 0 != valid&AttrValidATime {
		attr.ATime = update.ATime
	}
	if 0 != valid&AttrValidMTime {
		attr.MTime = update.MTime
	}
	if 0 != valid&AttrValidCTime {
		attr.CTime = update.CTime
	}
	if 0 != valid&AttrValidLaminated {
		attr.IsLaminated = update.IsLaminated
	}
}
