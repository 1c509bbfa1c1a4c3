// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/etcd/clientv3"
	"go.etcd.io/etcd/mvcc/mvccpb"

	"github.com/NVIDIA/burstfs/blunder"
	"github.com/NVIDIA/burstfs/logger"
)

// NewEtcdClient connects to endpoints.
func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (cli *clientv3.Client, err error) {
	cli, err = clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
	}
	return
}

func rankKey(prefix string, rank int) string {
	return fmt.Sprintf("%s%08d", prefix, rank)
}

// PublishPid stores pid for rank under prefix.
func PublishPid(ctx context.Context, cli *clientv3.Client, prefix string, rank int, pid int) (err error) {
	_, err = cli.Put(ctx, rankKey(prefix, rank), strconv.Itoa(pid))
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	logger.Tracef("published rank %d pid %d", rank, pid)

	return
}

func (rendezvous *RendezvousStruct) reportKV(prefix string, key []byte, value []byte) {
	rank, err := strconv.Atoi(strings.TrimPrefix(string(key), prefix))
	if nil != err {
		logger.WarnfWithError(err, "ignoring unexpected key %q", key)
		return
	}

	pid, err := strconv.Atoi(string(value))
	if nil != err {
		logger.WarnfWithError(err, "ignoring unexpected pid %q for rank %d", value, rank)
		return
	}

	err = rendezvous.Report(rank, pid)
	if nil != err {
		logger.WarnfWithError(err, "ignoring report under %q", key)
	}
}

// CollectPids feeds every pid published under prefix into rendezvous until all
// ranks have reported. If ctx ends first, TimeoutError is returned.
func CollectPids(ctx context.Context, cli *clientv3.Client, prefix string, rendezvous *RendezvousStruct) (err error) {
	getResp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	for _, kv := range getResp.Kvs {
		rendezvous.reportKV(prefix, kv.Key, kv.Value)
	}

	if rendezvous.Complete() {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wch := cli.Watch(watchCtx, prefix, clientv3.WithPrefix(), clientv3.WithRev(getResp.Header.Revision+1))

	for wresp := range wch {
		err = wresp.Err()
		if nil != err {
			if nil != ctx.Err() {
				break
			}
			err = blunder.AddError(err, blunder.IOError)
			return
		}

		for _, ev := range wresp.Events {
			if mvccpb.PUT == ev.Type {
				rendezvous.reportKV(prefix, ev.Kv.Key, ev.Kv.Value)
			}
		}

		if rendezvous.Complete() {
			return
		}
	}

	err = blunder.NewError(blunder.TimeoutError, "pid collection under %q ended before all ranks reported: %v", prefix, ctx.Err())

	return
}
