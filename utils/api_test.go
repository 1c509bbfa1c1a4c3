// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testHelperFuncPackage() (fn string, pkg string, gid uint64) {
	return GetFuncPackage(0)
}

func TestGetFuncPackage(t *testing.T) {
	assert := assert.New(t)

	fn, pkg, gid := testHelperFuncPackage()
	assert.Equal("testHelperFuncPackage", fn)
	assert.Equal("utils", pkg)
	assert.NotEqual(uint64(0), gid)

	assert.True(strings.HasSuffix(GetFnName(), "TestGetFuncPackage"))
}

func TestJSONify(t *testing.T) {
	type testConfigStruct struct {
		Name    string
		Servers uint32
	}

	assert := assert.New(t)

	assert.Equal(`{"Name":"x","Servers":3}`, JSONify(testConfigStruct{Name: "x", Servers: 3}, false))
	assert.Equal("{\n\t\"Name\": \"x\",\n\t\"Servers\": 3\n}", JSONify(testConfigStruct{Name: "x", Servers: 3}, true))
	assert.True(strings.HasPrefix(JSONify(make(chan int), false), "<<<json.Marshal failed"))
}
