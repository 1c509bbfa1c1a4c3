// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package attrstore

import (
	"time"

	"github.com/NVIDIA/cstruct"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/inode"
)

const attrRecordVersionV1 uint64 = 1

type attrKeyStruct struct {
	GFID uint32 // inode.GFID with the sign bit flipped
}

type attrRecordV1Struct struct {
	Version     uint64
	GFID        int32
	Mode        uint32
	UID         uint32
	GID         uint32
	Size        uint64
	ATime       int64 // UnixNano
	MTime       int64 // UnixNano
	CTime       int64 // UnixNano
	IsLaminated bool
	Filename    []byte
}

func packKey(gfid inode.GFID) (key []byte, err error) {
	key, err = cstruct.Pack(attrKeyStruct{GFID: uint32(gfid) ^ 0x80000000}, cstruct.BigEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidArgError)
	}
	return
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if 0 == ns {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func packAttr(gfid inode.GFID, attr *inode.FileAttrStruct) (value []byte, err error) {
	record := attrRecordV1Struct{
		Version:     attrRecordVersionV1,
		GFID:        int32(gfid),
		Mode:        attr.Mode,
		UID:         attr.UID,
		GID:         attr.GID,
		Size:        attr.Size,
		ATime:       unixNano(attr.ATime),
		MTime:       unixNano(attr.MTime),
		CTime:       unixNano(attr.CTime),
		IsLaminated: attr.IsLaminated,
		Filename:    []byte(attr.Filename),
	}

	value, err = cstruct.Pack(record, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidArgError)
	}

	return
}

func unpackAttr(value []byte) (attr *inode.FileAttrStruct, err error) {
	var (
		record attrRecordV1Struct
	)

	_, err = cstruct.Unpack(value, &record, cstruct.LittleEndian)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	if attrRecordVersionV1 != record.Version {
		err = blunder.NewError(blunder.IOError, "unsupported attr record version %d", record.Version)
		return
	}

	attr = &inode.FileAttrStruct{
		GFID:        inode.GFID(record.GFID),
		Filename:    string(record.Filename),
		Mode:        record.Mode,
		UID:         record.UID,
		GID:         record.GID,
		Size:        record.Size,
		ATime:       fromUnixNano(record.ATime),
		MTime:       fromUnixNano(record.MTime),
		CTime:       fromUnixNano(record.CTime),
		IsLaminated: record.IsLaminated,
	}

	return
}
