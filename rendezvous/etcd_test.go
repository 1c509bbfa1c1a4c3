// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	ei "go.etcd.io/etcd/integration"

	"github.com/NVIDIA/burstfs/blunder"
)

// testCluster starts a single member etcd cluster. The members bind unix
// sockets in the working directory, so it runs from /tmp.
func testCluster(t *testing.T) (clus *ei.ClusterV3, teardown func()) {
	swd, err := os.Getwd()
	if nil != err {
		t.Fatalf("Getwd() failed: %v", err)
	}
	err = os.Chdir(os.TempDir())
	if nil != err {
		t.Fatalf("Chdir() failed: %v", err)
	}

	clus = ei.NewClusterV3(t, &ei.ClusterConfig{Size: 1})

	teardown = func() {
		clus.Terminate(t)
		_ = os.Chdir(swd)
	}

	return
}

func TestEtcdCollectPids(t *testing.T) {
	assert := assert.New(t)

	clus, teardown := testCluster(t)
	defer teardown()

	cli := clus.RandClient()
	prefix := "burstfs/test/pids/"

	// Ranks 0 and 2 publish before collection starts, rank 1 after
	assert.Nil(PublishPid(context.Background(), cli, prefix, 0, 500))
	assert.Nil(PublishPid(context.Background(), cli, prefix, 2, 502))

	rendezvous := New(3)
	collected := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		collected <- CollectPids(ctx, cli, prefix, rendezvous)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Nil(PublishPid(context.Background(), cli, prefix, 1, 501))

	assert.Nil(<-collected)
	assert.Equal([]int{500, 501, 502}, rendezvous.Pids())

	// Nobody publishes under this prefix
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := CollectPids(ctx, cli, "burstfs/test/empty/", New(1))
	assert.True(blunder.Is(err, blunder.TimeoutError))
}
