// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package attrstore persists file attributes for an inode.TableStruct in a bbolt
// database, fronted by an ARC cache.
//
// Each record is a cstruct-packed attrRecordV1Struct. Keys are the GFID packed
// big-endian with the sign bit flipped so bbolt's byte order matches GFID order.
//
package attrstore

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.etcd.io/bbolt"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/logger"
)

// BoltStoreStruct implements inode.AttrStore.
type BoltStoreStruct struct {
	path  string
	db    *bbolt.DB
	cache *lru.ARCCache // key: inode.GFID; value: inode.FileAttrStruct; nil if disabled
}

var attrBucketName = []byte("FileAttrs")

// OpenBoltStore opens (creating if necessary) the database at path. A cacheSize of
// zero disables the read cache.
func OpenBoltStore(path string, cacheSize int) (store *BoltStoreStruct, err error) {
	store = &BoltStoreStruct{path: path}

	store.db, err = bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		store = nil
		return
	}

	err = store.db.Update(func(tx *bbolt.Tx) (txErr error) {
		_, txErr = tx.CreateBucketIfNotExists(attrBucketName)
		return
	})
	if nil != err {
		_ = store.db.Close()
		err = blunder.AddError(err, blunder.IOError)
		store = nil
		return
	}

	if 0 < cacheSize {
		store.cache, err = lru.NewARC(cacheSize)
		if nil != err {
			_ = store.db.Close()
			store = nil
			return
		}
	}

	logger.Infof("attrstore opened %s (cache size %d)", path, cacheSize)

	return
}

// Close closes the underlying database.
func (store *BoltStoreStruct) Close() (err error) {
	if nil != store.cache {
		store.cache.Purge()
	}

	err = store.db.Close()
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
	}

	return
}

// PersistAttr stores a copy of attr under gfid.
func (store *BoltStoreStruct) PersistAttr(gfid inode.GFID, attr *inode.FileAttrStruct) (err error) {
	key, err := packKey(gfid)
	if nil != err {
		return
	}
	value, err := packAttr(gfid, attr)
	if nil != err {
		return
	}

	err = store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(attrBucketName).Put(key, value)
	})
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	if nil != store.cache {
		attrCopy := *attr
		attrCopy.GFID = gfid
		store.cache.Add(gfid, attrCopy)
	}

	logger.Tracef("persisted gfid %d", gfid)

	return
}

// LoadAttr returns the attributes stored under gfid, or a NotFoundError.
func (store *BoltStoreStruct) LoadAttr(gfid inode.GFID) (attr *inode.FileAttrStruct, err error) {
	if nil != store.cache {
		cached, ok := store.cache.Get(gfid)
		if ok {
			attrCopy := cached.(inode.FileAttrStruct)
			attr = &attrCopy
			return
		}
	}

	key, err := packKey(gfid)
	if nil != err {
		return
	}

	var value []byte

	err = store.db.View(func(tx *bbolt.Tx) error {
		stored := tx.Bucket(attrBucketName).Get(key)
		if nil != stored {
			// stored is only valid for the life of tx
			value = append([]byte(nil), stored...)
		}
		return nil
	})
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}
	if nil == value {
		err = blunder.NewError(blunder.NotFoundError, "no attributes stored for gfid %d", gfid)
		return
	}

	attr, err = unpackAttr(value)
	if nil != err {
		return
	}

	if nil != store.cache {
		store.cache.Add(gfid, *attr)
	}

	return
}

// DeleteAttr removes any attributes stored under gfid.
func (store *BoltStoreStruct) DeleteAttr(gfid inode.GFID) (err error) {
	if nil != store.cache {
		store.cache.Remove(gfid)
	}

	key, err := packKey(gfid)
	if nil != err {
		return
	}

	err = store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(attrBucketName).Delete(key)
	})
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
	}

	return
}

// ForEach calls fn for every stored record in ascending GFID order, stopping at the
// first error fn returns.
func (store *BoltStoreStruct) ForEach(fn func(attr *inode.FileAttrStruct) error) (err error) {
	err = store.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(attrBucketName).ForEach(func(_ []byte, value []byte) error {
			attr, unpackErr := unpackAttr(value)
			if nil != unpackErr {
				return unpackErr
			}
			return fn(attr)
		})
	})

	return
}
