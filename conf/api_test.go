// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeTestFile(t *testing.T, dir string, name string, contents string) (path string) {
	path = filepath.Join(dir, name)
	err := ioutil.WriteFile(path, []byte(contents), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile(%v) failed: %v", path, err)
	}
	return
}

func TestUpdateFromFile(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	writeTestFile(t, dir, "included.conf", ""+
		"; pulled in by main.conf\n"+
		"[BurstFS]\n"+
		"ServerID : 3\n")

	mainPath := writeTestFile(t, dir, "main.conf", ""+
		"# A comment on it's own line\n"+
		"[TestNamespace:Test_-_Section] ; A comment at the end of a line\n"+
		"Test_-_Option : TestValue1,TestValue2 # A comment at the end of a line\n"+
		"EmptyOption =\n"+
		"URLs = http://Test.Value.3/ TestValue4$\tTestValue5$\n"+
		"\n"+
		".include included.conf\n"+
		"[BurstFS]\n"+
		"NumServers = 4\n")

	confMap, err := MakeConfMapFromFile(mainPath)
	if !assert.Nil(err) {
		t.FailNow()
	}

	values, err := confMap.FetchOptionValueStringSlice("TestNamespace:Test_-_Section", "Test_-_Option")
	assert.Nil(err)
	assert.Equal([]string{"TestValue1", "TestValue2"}, values)

	assert.Nil(confMap.VerifyOptionValueIsEmpty("TestNamespace:Test_-_Section", "EmptyOption"))

	values, err = confMap.FetchOptionValueStringSlice("TestNamespace:Test_-_Section", "URLs")
	assert.Nil(err)
	assert.Equal([]string{"http://Test.Value.3/", "TestValue4$", "TestValue5$"}, values)

	serverID, err := confMap.FetchOptionValueUint32("BurstFS", "ServerID")
	assert.Nil(err)
	assert.Equal(uint32(3), serverID)

	numServers, err := confMap.FetchOptionValueUint32("BurstFS", "NumServers")
	assert.Nil(err)
	assert.Equal(uint32(4), numServers)
}

func TestUpdateFromFileErrors(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	_, err := MakeConfMapFromFile(filepath.Join(dir, "missing.conf"))
	assert.NotNil(err)

	noSectionPath := writeTestFile(t, dir, "nosection.conf", "Option = Value\n")
	_, err = MakeConfMapFromFile(noSectionPath)
	assert.NotNil(err)

	noNewlinePath := writeTestFile(t, dir, "nonewline.conf", "[Section]\nOption = Value")
	_, err = MakeConfMapFromFile(noNewlinePath)
	assert.NotNil(err)

	malformedPath := writeTestFile(t, dir, "malformed.conf", "[Section]\nOption Value\n")
	_, err = MakeConfMapFromFile(malformedPath)
	assert.NotNil(err)
}

func TestFromStrings(t *testing.T) {
	assert := assert.New(t)

	confMap, err := MakeConfMapFromStrings([]string{
		"BurstFS.ReadWaitTimeout=250ms",
		"BurstFS.RemoteLookup=on",
		"BurstFS.TransportMaxChunk=65536",
		"BurstFS.TransportWorkers=8",
		"BurstFS.EtcdEndpoints=127.0.0.1:2379, 127.0.0.2:2379",
		"Logging.LogFilePath=",
	})
	if !assert.Nil(err) {
		t.FailNow()
	}

	timeout, err := confMap.FetchOptionValueDuration("BurstFS", "ReadWaitTimeout")
	assert.Nil(err)
	assert.Equal(250*time.Millisecond, timeout)

	remoteLookup, err := confMap.FetchOptionValueBool("BurstFS", "RemoteLookup")
	assert.Nil(err)
	assert.True(remoteLookup)

	maxChunk, err := confMap.FetchOptionValueUint64("BurstFS", "TransportMaxChunk")
	assert.Nil(err)
	assert.Equal(uint64(65536), maxChunk)

	workers, err := confMap.FetchOptionValueUint16("BurstFS", "TransportWorkers")
	assert.Nil(err)
	assert.Equal(uint16(8), workers)

	endpoints, err := confMap.FetchOptionValueStringSlice("BurstFS", "EtcdEndpoints")
	assert.Nil(err)
	assert.Equal([]string{"127.0.0.1:2379", "127.0.0.2:2379"}, endpoints)

	_, err = confMap.FetchOptionValueString("BurstFS", "EtcdEndpoints")
	assert.NotNil(err)

	_, err = confMap.FetchOptionValueString("Logging", "LogFilePath")
	assert.NotNil(err)
	assert.Nil(confMap.VerifyOptionValueIsEmpty("Logging", "LogFilePath"))

	assert.Nil(confMap.VerifyOptionIsMissing("BurstFS", "NoSuchOption"))
	assert.NotNil(confMap.VerifyOptionIsMissing("BurstFS", "RemoteLookup"))

	_, err = confMap.FetchOptionValueUint32("NoSuchSection", "ServerID")
	assert.NotNil(err)

	err = confMap.UpdateFromString("BurstFS.RemoteLookup=maybe")
	assert.Nil(err)
	_, err = confMap.FetchOptionValueBool("BurstFS", "RemoteLookup")
	assert.NotNil(err)

	err = confMap.UpdateFromString("BurstFS.ReadWaitTimeout=-1s")
	assert.Nil(err)
	_, err = confMap.FetchOptionValueDuration("BurstFS", "ReadWaitTimeout")
	assert.NotNil(err)

	err = confMap.UpdateFromString("BurstFS.TransportWorkers=70000")
	assert.Nil(err)
	_, err = confMap.FetchOptionValueUint16("BurstFS", "TransportWorkers")
	assert.NotNil(err)

	_, err = MakeConfMapFromStrings([]string{"NoDotHere=1"})
	assert.NotNil(err)
	_, err = MakeConfMapFromStrings([]string{"   "})
	assert.NotNil(err)
}

func TestUpdateFromYAML(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	yamlPath := writeTestFile(t, dir, "burstfs.yaml", ""+
		"BurstFS:\n"+
		"  ServerID: 1\n"+
		"  EtcdEndpoints: [\"127.0.0.1:2379\", \"127.0.0.2:2379\"]\n"+
		"  SharedFSDir:\n"+
		"Logging:\n"+
		"  LogToConsole: false\n")

	confMap := MakeConfMap()
	err := confMap.UpdateFromYAMLFile(yamlPath)
	if !assert.Nil(err) {
		t.FailNow()
	}

	serverID, err := confMap.FetchOptionValueUint32("BurstFS", "ServerID")
	assert.Nil(err)
	assert.Equal(uint32(1), serverID)

	endpoints, err := confMap.FetchOptionValueStringSlice("BurstFS", "EtcdEndpoints")
	assert.Nil(err)
	assert.Equal([]string{"127.0.0.1:2379", "127.0.0.2:2379"}, endpoints)

	assert.Nil(confMap.VerifyOptionValueIsEmpty("BurstFS", "SharedFSDir"))

	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	assert.Nil(err)
	assert.False(logToConsole)

	err = confMap.UpdateFromYAML([]byte("BurstFS:\n  ServerID:\n    Nested: 1\n"))
	assert.NotNil(err)
}

func TestDumpConfMapToFile(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()

	confMap, err := MakeConfMapFromStrings([]string{
		"BurstFS.ServerID=0",
		"BurstFS.EtcdEndpoints=a:1,b:2",
		"BurstFS.SharedFSDir=",
		"Logging.LogToConsole=true",
	})
	if !assert.Nil(err) {
		t.FailNow()
	}

	dumpPath := filepath.Join(dir, "dump.conf")
	err = confMap.DumpConfMapToFile(dumpPath, 0600)
	if !assert.Nil(err) {
		t.FailNow()
	}

	dumped, err := ioutil.ReadFile(dumpPath)
	assert.Nil(err)
	assert.Equal(""+
		"[BurstFS]\n"+
		"EtcdEndpoints : a:1, b:2\n"+
		"ServerID      : 0\n"+
		"SharedFSDir   :\n"+
		"\n"+
		"[Logging]\n"+
		"LogToConsole : true\n", string(dumped))

	reloaded, err := MakeConfMapFromFile(dumpPath)
	assert.Nil(err)
	assert.Equal(confMap, reloaded)
}
