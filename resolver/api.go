// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package resolver decides which server owns the extent metadata of a file.
package resolver

import (
	"encoding/binary"

	"github.com/creachadair/cityhash"

	"github.com/NVIDIA/burstfs/inode"
)

// Resolver maps a file (and offset) to the server holding its extent metadata.
type Resolver interface {
	OwningServer(gfid inode.GFID, offset uint64) (serverID uint32)
}

// HashResolverStruct places each file on one of its servers by hashing its GFID.
// The zero value places everything on server 0.
type HashResolverStruct struct {
	numServers uint32
	seed       uint64
}

// NewHashResolver returns a HashResolverStruct over numServers servers.
func NewHashResolver(numServers uint32, seed uint64) (resolver *HashResolverStruct) {
	if 0 == numServers {
		numServers = 1
	}
	resolver = &HashResolverStruct{numServers: numServers, seed: seed}
	return
}

// NumServers returns how many servers files are spread over.
func (resolver *HashResolverStruct) NumServers() uint32 {
	if 0 == resolver.numServers {
		return 1
	}
	return resolver.numServers
}

// OwningServer returns the server owning gfid. Metadata is owned per file, so
// offset does not affect the result.
func (resolver *HashResolverStruct) OwningServer(gfid inode.GFID, offset uint64) (serverID uint32) {
	var (
		gfidBuf [4]byte
	)

	if 1 >= resolver.numServers {
		return
	}

	binary.LittleEndian.PutUint32(gfidBuf[:], uint32(gfid))

	serverID = uint32(cityhash.Hash64WithSeed(gfidBuf[:], resolver.seed) % uint64(resolver.numServers))

	return
}
