// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package iclient is the read-completion engine. SubmitReads turns a batch of
// ReadRequestStructs into fragment requests against the servers holding each
// extent, and completions arriving from the transport fill the callers' buffers
// until Wait (or Poll) reports the batch Done.
package iclient

import (
	"time"

	"github.com/NVIDIA/burstfs/extent"
	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/mread"
	"github.com/NVIDIA/burstfs/resolver"
	"github.com/NVIDIA/burstfs/transport"
)

// ConfigStruct holds the client's tunables.
type ConfigStruct struct {
	WaitTimeout  time.Duration // used by Read; 0 means wait forever
	RemoteLookup bool          // send reads of gfids absent from the index to their owning server
}

// ExtentIndex is the client's view of file extent metadata. *inode.TableStruct
// satisfies it.
type ExtentIndex interface {
	QueryRange(gfid inode.GFID, offset uint64, length uint64) (entries []extent.EntryStruct, fileSize uint64, err error)
}

// StatsStruct is a snapshot of a ClientStruct's counters.
type StatsStruct struct {
	BatchesSubmitted  uint64
	BatchesCompleted  uint64
	BatchesCancelled  uint64
	FragmentsSent     uint64
	FragmentsReceived uint64
	FragmentsDropped  uint64 // arrived for a batch no longer registered or cancelled
	BytesReceived     uint64
	ZeroFillBytes     uint64
	RequestErrors     uint64
}

// ClientStruct submits and tracks mreads.
type ClientStruct struct {
	stats     StatsStruct // updated with sync/atomic; first for 64-bit alignment
	config    ConfigStruct
	index     ExtentIndex
	resolver  resolver.Resolver
	transport transport.Transport
	registry  *mread.RegistryStruct
}

// NewClient returns a ClientStruct reading through transport.
func NewClient(config ConfigStruct, index ExtentIndex, resolver resolver.Resolver, transport transport.Transport) (client *ClientStruct) {
	client = &ClientStruct{
		config:    config,
		index:     index,
		resolver:  resolver,
		transport: transport,
		registry:  mread.NewRegistry(),
	}
	return
}

// Registry exposes the client's Active-Mread Registry.
func (client *ClientStruct) Registry() *mread.RegistryStruct {
	return client.registry
}
