// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package node assembles a burstfs process from its configuration: the metadata
// inode table (optionally backed by a bolt attribute store), a loopback network
// of data servers, the owning-server resolver and the read-completion client.
//
// To configure a node, the following is needed in the provided conf.ConfMap
// (every option has a default):
//
//      [BurstFS]
//      ServerID:          0
//      NumServers:        1
//      AttrStorePath:                       # empty means attributes are not persisted
//      AttrCacheSize:     1024
//      TransportWorkers:  4
//      TransportMaxChunk: 1048576
//      ReadWaitTimeout:   0s                # 0 means wait forever
//      RemoteLookup:      false
//      SharedFSDir:                         # where burstfsd.pids is written; empty means nowhere
//      ServerInitTimeout: 30s
//      NumRanks:          1                 # processes rendezvousing through etcd
//      EtcdEndpoints:                       # empty means an in-process rendezvous
//      EtcdDialTimeout:   5s
//      EtcdKeyPrefix:     burstfs/pids/
//
// Logging is configured from the [Logging] section (see package logger).
//
package node

import (
	"time"

	"go.etcd.io/etcd/clientv3"

	"github.com/NVIDIA/burstfs/attrstore"
	"github.com/NVIDIA/burstfs/conf"
	"github.com/NVIDIA/burstfs/iclient"
	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/resolver"
	"github.com/NVIDIA/burstfs/transport"
)

type configStruct struct {
	serverID          uint32
	numServers        uint32
	attrStorePath     string
	attrCacheSize     uint32
	transportWorkers  uint32
	transportMaxChunk uint64
	readWaitTimeout   time.Duration
	remoteLookup      bool
	sharedFSDir       string
	serverInitTimeout time.Duration
	numRanks          uint32
	etcdEndpoints     []string
	etcdDialTimeout   time.Duration
	etcdKeyPrefix     string
}

// NodeStruct is a running burstfs process.
type NodeStruct struct {
	config     configStruct
	attrStore  *attrstore.BoltStoreStruct // nil unless AttrStorePath is set
	table      *inode.TableStruct
	network    *transport.NetworkStruct
	resolver   *resolver.HashResolverStruct
	client     *iclient.ClientStruct
	etcdClient *clientv3.Client // nil unless EtcdEndpoints is set
	pidFile    string
}

// Start brings up a NodeStruct as configured by confMap.
func Start(confMap conf.ConfMap) (node *NodeStruct, err error) {
	return start(confMap)
}

// Stop tears node down.
func (node *NodeStruct) Stop() (err error) {
	return node.stop()
}

// Table returns the metadata inode table.
func (node *NodeStruct) Table() *inode.TableStruct {
	return node.table
}

// Client returns the read-completion client.
func (node *NodeStruct) Client() *iclient.ClientStruct {
	return node.client
}

// Network returns the loopback network of data servers.
func (node *NodeStruct) Network() *transport.NetworkStruct {
	return node.network
}

// PidFile returns the path of the pid file written at startup, or "".
func (node *NodeStruct) PidFile() string {
	return node.pidFile
}
