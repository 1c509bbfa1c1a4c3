// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package mread

import (
	"sync"

	"github.com/google/btree"

	"github.com/NVIDIA/burstfs/logger"
)

// RegistryStruct holds the in-flight batches of one client, ordered by id, so a
// completion carrying only a batch id can find its StatusStruct.
type RegistryStruct struct {
	sync.Mutex
	lastID   uint32
	statuses *btree.BTree // of registryItemStruct
}

type registryItemStruct struct {
	id     uint32
	status *StatusStruct
}

func (item registryItemStruct) Less(than btree.Item) bool {
	return item.id < than.(registryItemStruct).id
}

// NewRegistry returns an empty RegistryStruct.
func NewRegistry() (registry *RegistryStruct) {
	registry = &RegistryStruct{
		statuses: btree.New(2),
	}
	return
}

// Register assigns status the next unused id and adds it.
//
// Ids increase monotonically. Zero is never issued, and after the counter
// wraps any id still registered is skipped.
//
func (registry *RegistryStruct) Register(status *StatusStruct) (id uint32) {
	registry.Lock()

	for {
		registry.lastID++
		if 0 == registry.lastID {
			continue
		}
		if !registry.statuses.Has(registryItemStruct{id: registry.lastID}) {
			break
		}
	}

	id = registry.lastID
	status.id = id

	registry.statuses.ReplaceOrInsert(registryItemStruct{id: id, status: status})

	registry.Unlock()

	logger.Tracef("registered mread %d", id)

	return
}

// Get returns the batch registered under id.
func (registry *RegistryStruct) Get(id uint32) (status *StatusStruct, ok bool) {
	registry.Lock()
	item := registry.statuses.Get(registryItemStruct{id: id})
	registry.Unlock()

	if nil != item {
		status = item.(registryItemStruct).status
		ok = true
	}

	return
}

// Remove unregisters id, returning false if it was not registered.
func (registry *RegistryStruct) Remove(id uint32) (removed bool) {
	registry.Lock()
	removed = (nil != registry.statuses.Delete(registryItemStruct{id: id}))
	registry.Unlock()

	if removed {
		logger.Tracef("removed mread %d", id)
	}

	return
}

// Len returns the number of registered batches.
func (registry *RegistryStruct) Len() (numStatuses int) {
	registry.Lock()
	numStatuses = registry.statuses.Len()
	registry.Unlock()
	return
}

// IDs returns the registered ids in ascending order.
func (registry *RegistryStruct) IDs() (ids []uint32) {
	registry.Lock()
	ids = make([]uint32, 0, registry.statuses.Len())
	registry.statuses.Ascend(func(item btree.Item) bool {
		ids = append(ids, item.(registryItemStruct).id)
		return true
	})
	registry.Unlock()
	return
}
