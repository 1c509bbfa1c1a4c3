// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"io/ioutil"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NVIDIA/burstfs/blunder"
)

func TestPublishAllRanks(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	rendezvous := New(4)

	var wg sync.WaitGroup
	for rank := 1; rank < 4; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			time.Sleep(time.Duration(rank) * time.Millisecond)
			assert.Nil(rendezvous.Publish(rank, 1000+rank, time.Second, dir))
		}(rank)
	}

	err := rendezvous.Publish(0, 1000, 10*time.Second, dir)
	assert.Nil(err)
	wg.Wait()

	assert.True(rendezvous.Complete())
	assert.Equal([]int{1000, 1001, 1002, 1003}, rendezvous.Pids())

	contents, err := ioutil.ReadFile(filepath.Join(dir, PidFileName))
	assert.Nil(err)
	assert.Equal("[0] 1000\n[1] 1001\n[2] 1002\n[3] 1003\n", string(contents))
}

func TestAwaitTimeout(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	rendezvous := New(3)

	assert.Nil(rendezvous.Report(2, 77))

	start := time.Now()
	err := rendezvous.Publish(0, 1, 20*time.Millisecond, dir)
	assert.True(blunder.Is(err, blunder.TimeoutError))
	assert.True(time.Since(start) >= 20*time.Millisecond)
	assert.False(rendezvous.Complete())

	_, err = ioutil.ReadFile(filepath.Join(dir, PidFileName))
	assert.NotNil(err)

	// A late report completes it
	assert.Nil(rendezvous.Report(1, 5))
	assert.Nil(rendezvous.Await(0))
	assert.Equal([]int{1, 5, 77}, rendezvous.Pids())
}

func TestReportErrors(t *testing.T) {
	assert := assert.New(t)

	rendezvous := New(2)

	assert.True(blunder.Is(rendezvous.Report(2, 10), blunder.OutOfRangeError))
	assert.True(blunder.Is(rendezvous.Report(-1, 10), blunder.OutOfRangeError))
	assert.True(blunder.Is(rendezvous.Report(0, 0), blunder.InvalidArgError))

	// Re-reporting a rank does not count it twice
	assert.Nil(rendezvous.Report(0, 10))
	assert.Nil(rendezvous.Report(0, 11))
	assert.False(rendezvous.Complete())
	assert.Equal([]int{11, 0}, rendezvous.Pids())

	_, err := rendezvous.WritePidFile(filepath.Join(t.TempDir(), "missing", "dir"))
	assert.True(blunder.Is(err, blunder.IOError))

	// Zero ranks is trivially complete
	assert.Nil(New(0).Await(time.Millisecond))
}
