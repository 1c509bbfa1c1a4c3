// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"math/rand"
	"sync"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/logger"
)

// FaultFunc returns a non-nil error to make serverID fail request.
type FaultFunc func(serverID uint32, request *FragmentRequestStruct) (err error)

// DropFunc returns true to make serverID never answer request.
type DropFunc func(serverID uint32, request *FragmentRequestStruct) (drop bool)

// NetworkConfigStruct configures a NetworkStruct.
type NetworkConfigStruct struct {
	NumServers uint32
	Workers    int    // goroutines serving requests; 0 means 1
	QueueDepth int    // requests buffered ahead of the workers
	MaxChunk   uint64 // largest fragment a server sends; 0 means unlimited
	Shuffle    bool   // deliver each reply's fragments in random order
	Duplicate  bool   // deliver every fragment twice
	Seed       int64
}

type workItemStruct struct {
	server   *ServerStruct
	request  FragmentRequestStruct
	complete CompletionFunc
}

// NetworkStruct is an in-process Transport connecting a client to NumServers
// ServerStructs.
type NetworkStruct struct {
	config  NetworkConfigStruct
	servers []*ServerStruct

	sync.RWMutex // protects closed
	closed       bool

	injectorLock sync.Mutex
	fault        FaultFunc
	drop         DropFunc

	randLock sync.Mutex
	rand     *rand.Rand

	workQueue chan *workItemStruct
	workersWG sync.WaitGroup
}

// NewNetwork starts a NetworkStruct's workers.
func NewNetwork(config NetworkConfigStruct) (network *NetworkStruct) {
	if 0 == config.NumServers {
		config.NumServers = 1
	}
	if 0 >= config.Workers {
		config.Workers = 1
	}
	if 0 > config.QueueDepth {
		config.QueueDepth = 0
	}

	network = &NetworkStruct{
		config:    config,
		servers:   make([]*ServerStruct, config.NumServers),
		rand:      rand.New(rand.NewSource(config.Seed)),
		workQueue: make(chan *workItemStruct, config.QueueDepth),
	}

	for serverID := range network.servers {
		network.servers[serverID] = NewServer(uint32(serverID))
	}

	network.workersWG.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go network.worker()
	}

	logger.Infof("transport up: %d servers, %d workers, max chunk %d", config.NumServers, config.Workers, config.MaxChunk)

	return
}

// Server returns the ServerStruct for serverID, or nil.
func (network *NetworkStruct) Server(serverID uint32) *ServerStruct {
	if serverID >= uint32(len(network.servers)) {
		return nil
	}
	return network.servers[serverID]
}

// NumServers returns the number of servers.
func (network *NetworkStruct) NumServers() uint32 {
	return uint32(len(network.servers))
}

// SetFault installs (or, with nil, removes) a fault injector.
func (network *NetworkStruct) SetFault(fault FaultFunc) {
	network.injectorLock.Lock()
	network.fault = fault
	network.injectorLock.Unlock()
}

// SetDrop installs (or, with nil, removes) a drop injector.
func (network *NetworkStruct) SetDrop(drop DropFunc) {
	network.injectorLock.Lock()
	network.drop = drop
	network.injectorLock.Unlock()
}

// Dispatch queues request for serverID.
func (network *NetworkStruct) Dispatch(serverID uint32, request *FragmentRequestStruct, complete CompletionFunc) (err error) {
	server := network.Server(serverID)
	if nil == server {
		err = blunder.NewError(blunder.TransportError, "no such server %d", serverID)
		return
	}

	network.RLock()
	defer network.RUnlock()

	if network.closed {
		err = blunder.NewError(blunder.TransportError, "transport closed")
		return
	}

	network.workQueue <- &workItemStruct{server: server, request: *request, complete: complete}

	return
}

func (network *NetworkStruct) worker() {
	defer network.workersWG.Done()

	for workItem := range network.workQueue {
		network.process(workItem)
	}
}

func (network *NetworkStruct) process(workItem *workItemStruct) {
	var (
		fragments []*FragmentStruct
	)

	network.injectorLock.Lock()
	fault := network.fault
	drop := network.drop
	network.injectorLock.Unlock()

	serverID := workItem.server.ID()
	request := &workItem.request

	if (nil != drop) && drop(serverID, request) {
		logger.Tracef("server %d dropped batch %d request %d", serverID, request.BatchID, request.Index)
		return
	}

	if nil != fault {
		err := fault(serverID, request)
		if nil != err {
			fragments = []*FragmentStruct{{
				BatchID:    request.BatchID,
				Index:      request.Index,
				FileOffset: request.FileOffset,
				Err:        blunder.AddError(err, blunder.TransportError),
			}}
		}
	}

	if nil == fragments {
		fragments = workItem.server.serve(request, network.config.MaxChunk)
	}

	if network.config.Shuffle && (1 < len(fragments)) {
		network.randLock.Lock()
		network.rand.Shuffle(len(fragments), func(i, j int) {
			fragments[i], fragments[j] = fragments[j], fragments[i]
		})
		network.randLock.Unlock()
	}

	for _, fragment := range fragments {
		workItem.complete(fragment)
		if network.config.Duplicate {
			duplicate := *fragment
			workItem.complete(&duplicate)
		}
	}
}

// Close stops accepting requests and waits for queued ones to be delivered.
func (network *NetworkStruct) Close() {
	network.Lock()
	if network.closed {
		network.Unlock()
		return
	}
	network.closed = true
	close(network.workQueue)
	network.Unlock()

	network.workersWG.Wait()

	logger.Infof("transport down")
}
