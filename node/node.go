// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"context"
	"os"
	"time"

	"github.com/NVIDIA/burstfs/attrstore"
	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/conf"
	"github.com/NVIDIA/burstfs/extent"
	"github.com/NVIDIA/burstfs/iclient"
	"github.com/NVIDIA/burstfs/inode"
	"github.com/NVIDIA/burstfs/logger"
	"github.com/NVIDIA/burstfs/rendezvous"
	"github.com/NVIDIA/burstfs/resolver"
	"github.com/NVIDIA/burstfs/transport"
	"github.com/NVIDIA/burstfs/utils"
)

const sectionName = "BurstFS"

func fetchString(confMap conf.ConfMap, optionName string, defaultValue string) (optionValue string, err error) {
	optionValues, _ := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	switch len(optionValues) {
	case 0:
		optionValue = defaultValue
	case 1:
		optionValue = optionValues[0]
	default:
		err = blunder.NewError(blunder.InvalidArgError, "[%s]%s must be single-valued", sectionName, optionName)
	}
	return
}

func fetchUint32(confMap conf.ConfMap, optionName string, defaultValue uint32) (optionValue uint32, err error) {
	if nil == confMap.VerifyOptionIsMissing(sectionName, optionName) {
		optionValue = defaultValue
		return
	}
	optionValue, err = confMap.FetchOptionValueUint32(sectionName, optionName)
	return
}

func fetchUint64(confMap conf.ConfMap, optionName string, defaultValue uint64) (optionValue uint64, err error) {
	if nil == confMap.VerifyOptionIsMissing(sectionName, optionName) {
		optionValue = defaultValue
		return
	}
	optionValue, err = confMap.FetchOptionValueUint64(sectionName, optionName)
	return
}

func fetchDuration(confMap conf.ConfMap, optionName string, defaultValue time.Duration) (optionValue time.Duration, err error) {
	if nil == confMap.VerifyOptionIsMissing(sectionName, optionName) {
		optionValue = defaultValue
		return
	}
	optionValue, err = confMap.FetchOptionValueDuration(sectionName, optionName)
	return
}

func fetchBool(confMap conf.ConfMap, optionName string, defaultValue bool) (optionValue bool, err error) {
	if nil == confMap.VerifyOptionIsMissing(sectionName, optionName) {
		optionValue = defaultValue
		return
	}
	optionValue, err = confMap.FetchOptionValueBool(sectionName, optionName)
	return
}

func fetchConfig(confMap conf.ConfMap) (config configStruct, err error) {
	if config.serverID, err = fetchUint32(confMap, "ServerID", 0); nil != err {
		return
	}
	if config.numServers, err = fetchUint32(confMap, "NumServers", 1); nil != err {
		return
	}
	if 0 == config.numServers {
		err = blunder.NewError(blunder.InvalidArgError, "[%s]NumServers must be positive", sectionName)
		return
	}
	if config.attrStorePath, err = fetchString(confMap, "AttrStorePath", ""); nil != err {
		return
	}
	if config.attrCacheSize, err = fetchUint32(confMap, "AttrCacheSize", 1024); nil != err {
		return
	}
	if config.transportWorkers, err = fetchUint32(confMap, "TransportWorkers", 4); nil != err {
		return
	}
	if config.transportMaxChunk, err = fetchUint64(confMap, "TransportMaxChunk", 1024*1024); nil != err {
		return
	}
	if config.readWaitTimeout, err = fetchDuration(confMap, "ReadWaitTimeout", 0); nil != err {
		return
	}
	if config.remoteLookup, err = fetchBool(confMap, "RemoteLookup", false); nil != err {
		return
	}
	if config.sharedFSDir, err = fetchString(confMap, "SharedFSDir", ""); nil != err {
		return
	}
	if config.serverInitTimeout, err = fetchDuration(confMap, "ServerInitTimeout", 30*time.Second); nil != err {
		return
	}
	if config.numRanks, err = fetchUint32(confMap, "NumRanks", 1); nil != err {
		return
	}
	config.etcdEndpoints, _ = confMap.FetchOptionValueStringSlice(sectionName, "EtcdEndpoints")
	if config.etcdDialTimeout, err = fetchDuration(confMap, "EtcdDialTimeout", 5*time.Second); nil != err {
		return
	}
	if config.etcdKeyPrefix, err = fetchString(confMap, "EtcdKeyPrefix", "burstfs/pids/"); nil != err {
		return
	}
	return
}

func start(confMap conf.ConfMap) (node *NodeStruct, err error) {
	err = logger.Up(confMap)
	if nil != err {
		return
	}

	node = &NodeStruct{}

	node.config, err = fetchConfig(confMap)
	if nil != err {
		logger.ErrorfWithError(err, "bad [%s] configuration", sectionName)
		_ = logger.Down()
		node = nil
		return
	}

	if logger.TraceEnabled("node") {
		logger.Tracef("[%s] %s", sectionName, utils.JSONify(confMap[sectionName], false))
	}

	err = node.upAttrStore()
	if nil != err {
		_ = node.stop()
		node = nil
		return
	}

	node.network = transport.NewNetwork(transport.NetworkConfigStruct{
		NumServers: node.config.numServers,
		Workers:    int(node.config.transportWorkers),
		QueueDepth: 4 * int(node.config.transportWorkers),
		MaxChunk:   node.config.transportMaxChunk,
		Seed:       time.Now().UnixNano(),
	})

	node.resolver = resolver.NewHashResolver(node.config.numServers, 0)

	node.client = iclient.NewClient(iclient.ConfigStruct{
		WaitTimeout:  node.config.readWaitTimeout,
		RemoteLookup: node.config.remoteLookup,
	}, node.table, node.resolver, node.network)

	err = node.publishPids()
	if nil != err {
		_ = node.stop()
		node = nil
		return
	}

	logger.Infof("burstfs node %d is up: %d servers, %d files (pid %d)", node.config.serverID, node.config.numServers, node.table.Len(), os.Getpid())

	return
}

// upAttrStore creates the metadata table, reloading attributes from the bolt
// store when one is configured.
func (node *NodeStruct) upAttrStore() (err error) {
	var (
		gfids []inode.GFID
	)

	if "" == node.config.attrStorePath {
		node.table = inode.NewTable(nil)
		return
	}

	node.attrStore, err = attrstore.OpenBoltStore(node.config.attrStorePath, int(node.config.attrCacheSize))
	if nil != err {
		logger.ErrorfWithError(err, "couldn't open attribute store %s", node.config.attrStorePath)
		return
	}

	node.table = inode.NewTable(node.attrStore)

	err = node.attrStore.ForEach(func(attr *inode.FileAttrStruct) error {
		gfids = append(gfids, attr.GFID)
		return nil
	})
	if nil != err {
		return
	}

	for _, gfid := range gfids {
		err = node.table.Restore(gfid)
		if nil != err {
			logger.ErrorfWithError(err, "couldn't restore gfid %d", gfid)
			return
		}
	}

	if 0 < len(gfids) {
		logger.Infof("restored %d files from %s", len(gfids), node.config.attrStorePath)
	}

	return
}

// publishPids runs the startup rendezvous. Without etcd every loopback server
// reports this process's pid. With etcd this process reports as rank ServerID
// and rank 0 collects NumRanks reports.
func (node *NodeStruct) publishPids() (err error) {
	var (
		r *rendezvous.RendezvousStruct
	)

	pid := os.Getpid()

	if 0 == len(node.config.etcdEndpoints) {
		r = rendezvous.New(int(node.config.numServers))
		for rank := 1; rank < int(node.config.numServers); rank++ {
			err = r.Report(rank, pid)
			if nil != err {
				return
			}
		}
		err = r.Report(0, pid)
		if nil != err {
			return
		}
		err = r.Await(node.config.serverInitTimeout)
		if nil != err {
			return
		}
		return node.writePidFile(r)
	}

	node.etcdClient, err = rendezvous.NewEtcdClient(node.config.etcdEndpoints, node.config.etcdDialTimeout)
	if nil != err {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), node.config.serverInitTimeout)
	defer cancel()

	err = rendezvous.PublishPid(ctx, node.etcdClient, node.config.etcdKeyPrefix, int(node.config.serverID), pid)
	if (nil != err) || (0 != node.config.serverID) {
		return
	}

	r = rendezvous.New(int(node.config.numRanks))

	err = rendezvous.CollectPids(ctx, node.etcdClient, node.config.etcdKeyPrefix, r)
	if nil != err {
		logger.ErrorfWithError(err, "some servers failed to initialize within %v", node.config.serverInitTimeout)
		return
	}

	return node.writePidFile(r)
}

func (node *NodeStruct) writePidFile(r *rendezvous.RendezvousStruct) (err error) {
	if "" == node.config.sharedFSDir {
		return
	}
	node.pidFile, err = r.WritePidFile(node.config.sharedFSDir)
	if nil == err {
		logger.Infof("servers ready to accept client connections")
	}
	return
}

func (node *NodeStruct) stop() (err error) {
	var (
		firstErr error
	)

	keep := func(err error) {
		if (nil != err) && (nil == firstErr) {
			firstErr = err
		}
	}

	if nil != node.etcdClient {
		keep(node.etcdClient.Close())
		node.etcdClient = nil
	}

	if nil != node.network {
		node.network.Close()
	}

	if nil != node.attrStore {
		keep(node.attrStore.Close())
		node.attrStore = nil
	}

	logger.Infof("burstfs node %d is down", node.config.serverID)

	keep(logger.Down())

	err = firstErr

	return
}

// Write stores data as bytes [offset, offset+len(data)) of gfid on the server
// owning gfid and records the extent in the metadata table. The file must
// already exist in the table.
func (node *NodeStruct) Write(gfid inode.GFID, offset uint64, data []byte) (err error) {
	return node.WriteOn(node.resolver.OwningServer(gfid, offset), gfid, offset, data)
}

// WriteOn is Write with the data placed on serverID.
func (node *NodeStruct) WriteOn(serverID uint32, gfid inode.GFID, offset uint64, data []byte) (err error) {
	var (
		entries []extent.EntryStruct
	)

	server := node.network.Server(serverID)
	if nil == server {
		err = blunder.NewError(blunder.InvalidArgError, "no server %d", serverID)
		return
	}

	attr, err := node.table.GetAttr(gfid)
	if nil != err {
		return
	}
	if attr.IsLaminated {
		err = blunder.NewError(blunder.LaminatedError, "gfid %d is laminated", gfid)
		return
	}

	entries, err = server.Write(gfid, offset, data)
	if nil != err {
		return
	}

	err = node.table.AddExtents(gfid, entries)

	return
}
