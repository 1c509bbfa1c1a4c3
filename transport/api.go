// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package transport carries fragment read requests from a client to the server
// holding the data and delivers the resulting fragments back asynchronously.
//
// NetworkStruct is an in-process implementation: a pool of worker goroutines
// serves requests against per-server log stores and invokes completions from
// those workers, so callers see the same concurrency a remote transport produces.
//
package transport

import (
	"github.com/NVIDIA/burstfs/inode"
)

// FragmentRequestStruct asks a server for [FileOffset, FileOffset+Length) of GFID
// on behalf of request Index of batch BatchID.
type FragmentRequestStruct struct {
	BatchID    uint32
	Index      uint32
	GFID       inode.GFID
	FileOffset uint64
	Length     uint64
}

// FragmentStruct is one delivered piece of a reply.
//
// EOF means the file ends at FileOffset+Length. Err reports a failure serving the
// request, in which case Data is empty.
//
type FragmentStruct struct {
	BatchID    uint32
	Index      uint32
	FileOffset uint64
	Length     uint64
	Data       []byte
	EOF        bool
	Err        error
}

// CompletionFunc is invoked once per delivered fragment, from an arbitrary goroutine.
type CompletionFunc func(fragment *FragmentStruct)

// Transport sends a fragment request to serverID. A nil return means complete
// will be invoked (one or more times) later. A non-nil return means it never will.
type Transport interface {
	Dispatch(serverID uint32, request *FragmentRequestStruct, complete CompletionFunc) (err error)
}
