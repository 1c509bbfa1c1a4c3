// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities shared by the burstfs packages.
package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
)

var (
	fnNameRE  = regexp.MustCompile(`[^\/]*$`)
	pkgNameRE = regexp.MustCompile(`^[^.]*`)
	funcRE    = regexp.MustCompile(`[^.]*$`)
)

// GetGID returns the id of the calling goroutine.
//
// Only intended to decorate log entries when chasing locking issues.
//
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// GetAFnName returns "<package>.<function>" for the caller level frames up the stack.
func GetAFnName(level int) string {
	var (
		functionObject *runtime.Func
		ok             bool
		pc             uintptr
	)

	pc, _, _, ok = runtime.Caller(level + 1)
	if !ok {
		return ""
	}

	functionObject = runtime.FuncForPC(pc)
	if nil == functionObject {
		return ""
	}

	return fnNameRE.FindString(functionObject.Name())
}

// GetFnName returns "<package>.<function>" of the running function.
func GetFnName() string {
	return GetAFnName(1)
}

// GetFuncPackage splits GetAFnName(level) into its function and package parts
// and also returns the calling goroutine's id.
//
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	pkg = pkgNameRE.FindString(funcPkg)
	fn = funcRE.FindString(funcPkg)
	gid = GetGID()

	return
}

// JSONify returns input as a JSON string, optionally indented.
//
// Failures are folded into the returned string so callers can log it unconditionally.
//
func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err             error
		inputJSON       bytes.Buffer
		inputJSONPacked []byte
	)

	inputJSONPacked, err = json.Marshal(input)
	if nil != err {
		output = fmt.Sprintf("<<<json.Marshal failed: %v>>>", err)
		return
	}

	if !indentify {
		output = string(inputJSONPacked)
		return
	}

	err = json.Indent(&inputJSON, inputJSONPacked, "", "\t")
	if nil != err {
		output = fmt.Sprintf("<<<json.Indent failed: %v>>>", err)
		return
	}

	output = inputJSON.String()

	return
}
