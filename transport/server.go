// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/extent"
	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/logger"
)

// LogStoreStruct is an append-only in-memory log of written bytes.
type LogStoreStruct struct {
	sync.RWMutex
	serverID uint32
	logID    uint64
	data     []byte
}

// Append stores data and returns where it landed.
func (logStore *LogStoreStruct) Append(data []byte) (location extent.LocationStruct) {
	logStore.Lock()
	location = extent.LocationStruct{
		ServerID:  logStore.serverID,
		LogID:     logStore.logID,
		LogOffset: uint64(len(logStore.data)),
	}
	logStore.data = append(logStore.data, data...)
	logStore.Unlock()
	return
}

// ReadAt copies length bytes starting locationOffset bytes past location into dst.
func (logStore *LogStoreStruct) ReadAt(dst []byte, location extent.LocationStruct, locationOffset uint64, length uint64) (err error) {
	logStore.RLock()
	defer logStore.RUnlock()

	if (location.ServerID != logStore.serverID) || (location.LogID != logStore.logID) {
		err = blunder.NewError(blunder.BadFileError, "server %d log %d does not hold %+v", logStore.serverID, logStore.logID, location)
		return
	}

	start := location.LogOffset + locationOffset
	if (start+length < start) || (start+length > uint64(len(logStore.data))) {
		err = blunder.NewError(blunder.OutOfRangeError, "log read [0x%016X,+0x%016X) beyond log end 0x%016X", start, length, len(logStore.data))
		return
	}

	copy(dst[:length], logStore.data[start:start+length])

	return
}

// Size returns the number of bytes appended so far.
func (logStore *LogStoreStruct) Size() (size uint64) {
	logStore.RLock()
	size = uint64(len(logStore.data))
	logStore.RUnlock()
	return
}

// ServerStruct holds the data written to one server: the bytes in its log and a
// local inode table recording where each file's bytes sit in that log.
type ServerStruct struct {
	id    uint32
	table *inode.TableStruct
	log   *LogStoreStruct
}

// NewServer returns an empty ServerStruct.
func NewServer(serverID uint32) (server *ServerStruct) {
	server = &ServerStruct{
		id:    serverID,
		table: inode.NewTable(nil),
		log:   &LogStoreStruct{serverID: serverID, logID: uint64(serverID) + 1},
	}
	return
}

// ID returns the server's id.
func (server *ServerStruct) ID() uint32 {
	return server.id
}

// Table returns the server's local inode table.
func (server *ServerStruct) Table() *inode.TableStruct {
	return server.table
}

// Log returns the server's log store.
func (server *ServerStruct) Log() *LogStoreStruct {
	return server.log
}

// Write appends data to the log as bytes [offset, offset+len(data)) of gfid and
// returns the extent entry describing it, for the file's metadata owner to add.
func (server *ServerStruct) Write(gfid inode.GFID, offset uint64, data []byte) (entries []extent.EntryStruct, err error) {
	err = extent.CheckRange(offset, uint64(len(data)))
	if nil != err {
		return
	}

	err = server.table.Create(gfid, &inode.FileAttrStruct{})
	if (nil != err) && !blunder.Is(err, blunder.AlreadyExistsError) {
		return
	}

	entries = []extent.EntryStruct{{
		FileOffset: offset,
		Length:     uint64(len(data)),
		Location:   server.log.Append(data),
	}}

	err = server.table.AddExtents(gfid, entries)
	if nil != err {
		entries = nil
		return
	}

	logger.Tracef("server %d wrote gfid %d [0x%016X,+0x%016X)", server.id, gfid, offset, len(data))

	return
}

// serve answers request with fragments of at most maxChunk bytes (0 means no limit).
//
// The reply is clipped to the file's local size with the last fragment flagged
// EOF when the request reaches past it. Holes read as zeroes.
//
func (server *ServerStruct) serve(request *FragmentRequestStruct, maxChunk uint64) (fragments []*FragmentStruct) {
	var (
		data      []byte
		end       uint64
		entries   []extent.EntryStruct
		eof       bool
		err       error
		fileSize  uint64
		chunkSize uint64
	)

	errorFragment := func(err error) []*FragmentStruct {
		return []*FragmentStruct{{
			BatchID:    request.BatchID,
			Index:      request.Index,
			FileOffset: request.FileOffset,
			Err:        err,
		}}
	}

	err = extent.CheckRange(request.FileOffset, request.Length)
	if nil != err {
		return errorFragment(err)
	}

	entries, fileSize, err = server.table.QueryRange(request.GFID, request.FileOffset, request.Length)
	if nil != err {
		return errorFragment(err)
	}

	if request.FileOffset >= fileSize {
		return []*FragmentStruct{{
			BatchID:    request.BatchID,
			Index:      request.Index,
			FileOffset: fileSize,
			Length:     0,
			Data:       []byte{},
			EOF:        true,
		}}
	}

	end = request.FileOffset + request.Length
	if end > fileSize {
		end = fileSize
		eof = true
	}

	data = make([]byte, end-request.FileOffset)

	for _, entry := range entries {
		if entry.FileOffset >= end {
			break
		}
		length := entry.Length
		if entry.End() > end {
			length = end - entry.FileOffset
		}
		err = server.log.ReadAt(data[entry.FileOffset-request.FileOffset:], entry.Location, entry.LocationOffset, length)
		if nil != err {
			logger.ErrorfWithError(err, "server %d failed reading gfid %d", server.id, request.GFID)
			return errorFragment(blunder.AddError(err, blunder.IOError))
		}
	}

	if 0 == maxChunk {
		maxChunk = uint64(len(data))
	}

	for chunkStart := uint64(0); chunkStart < uint64(len(data)); chunkStart += chunkSize {
		chunkSize = uint64(len(data)) - chunkStart
		if chunkSize > maxChunk {
			chunkSize = maxChunk
		}

		fragments = append(fragments, &FragmentStruct{
			BatchID:    request.BatchID,
			Index:      request.Index,
			FileOffset: request.FileOffset + chunkStart,
			Length:     chunkSize,
			Data:       data[chunkStart : chunkStart+chunkSize],
			EOF:        eof && (chunkStart+chunkSize == uint64(len(data))),
		})
	}

	return
}
