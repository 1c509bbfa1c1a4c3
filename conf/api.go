// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf provides the ConfMap used to configure every burstfs package.
//
// A ConfMap is loaded from .INI/.conf files, YAML files, and/or strings of the form
// <section_name>.<option_name>=<value>[,<value>...] (e.g. command-line overrides).
//
package conf

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ConfMap is accessed via confMap[section_name][option_name][option_value_index] or via the methods below

type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

// MakeConfMap returns an newly created empty ConfMap
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromFile returns a newly created ConfMap loaded with the contents of the confFilePath-specified file
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

// MakeConfMapFromStrings returns a newly created ConfMap loaded with the contents specified in confStrings
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromStrings(confStrings)
	if nil != err {
		err = fmt.Errorf("Error building confMap from conf strings: %v", err)
	}
	return
}

func (confMap ConfMap) setOption(sectionName string, optionName string, optionValues []string) {
	section, found := confMap[sectionName]
	if !found {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = optionValues
}

func (confMap ConfMap) fetchOption(sectionName string, optionName string) (option ConfMapOption, err error) {
	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%v] missing", sectionName)
		return
	}

	option, ok = section[optionName]
	if !ok {
		err = fmt.Errorf("[%v]%v missing", sectionName, optionName)
		return
	}

	err = nil
	return
}

// VerifyOptionIsMissing returns an error if [sectionName]optionName exists
func (confMap ConfMap) VerifyOptionIsMissing(sectionName string, optionName string) (err error) {
	_, err = confMap.fetchOption(sectionName, optionName)
	if nil == err {
		err = fmt.Errorf("[%v]%v exists", sectionName, optionName)
	} else {
		err = nil
	}
	return
}

// VerifyOptionValueIsEmpty returns an error if [sectionName]optionName's string value is not empty
func (confMap ConfMap) VerifyOptionValueIsEmpty(sectionName string, optionName string) (err error) {
	option, err := confMap.fetchOption(sectionName, optionName)
	if nil != err {
		return
	}

	if 0 != len(option) {
		err = fmt.Errorf("[%v]%v must have no value", sectionName, optionName)
	}

	return
}

// FetchOptionValueStringSlice returns [sectionName]optionName's string values as a []string
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	option, err := confMap.fetchOption(sectionName, optionName)
	if nil != err {
		optionValue = []string{}
		return
	}

	optionValue = option

	return
}

// FetchOptionValueString returns [sectionName]optionName's single string value
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	option, err := confMap.fetchOption(sectionName, optionName)
	if nil != err {
		return
	}

	if 1 != len(option) {
		err = fmt.Errorf("[%v]%v must be single-valued", sectionName, optionName)
		return
	}

	optionValue = option[0]

	return
}

// FetchOptionValueBool returns [sectionName]optionName's single string value converted to a bool
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "yes", "on", "true":
		optionValue = true
	case "no", "off", "false":
		optionValue = false
	default:
		err = fmt.Errorf("Couldn't interpret %q as boolean (expected one of 'true'/'false'/'yes'/'no'/'on'/'off')", optionValueString)
	}

	return
}

func (confMap ConfMap) fetchOptionValueUint(sectionName string, optionName string, bitSize int) (optionValue uint64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 10, bitSize)
	if nil != err {
		err = fmt.Errorf("[%v]%v strconv.ParseUint() error: %v", sectionName, optionName, err)
		optionValue = 0
	}

	return
}

// FetchOptionValueUint16 returns [sectionName]optionName's single string value converted to a uint16
func (confMap ConfMap) FetchOptionValueUint16(sectionName string, optionName string) (optionValue uint16, err error) {
	optionValueUint64, err := confMap.fetchOptionValueUint(sectionName, optionName, 16)
	optionValue = uint16(optionValueUint64)
	return
}

// FetchOptionValueUint32 returns [sectionName]optionName's single string value converted to a uint32
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueUint64, err := confMap.fetchOptionValueUint(sectionName, optionName, 32)
	optionValue = uint32(optionValueUint64)
	return
}

// FetchOptionValueUint64 returns [sectionName]optionName's single string value converted to a uint64
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	optionValue, err = confMap.fetchOptionValueUint(sectionName, optionName, 64)
	return
}

// FetchOptionValueDuration returns [sectionName]optionName's single string value converted to a time.Duration
//
// Negative durations are rejected.
//
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		return
	}

	if 0 > optionValue {
		err = fmt.Errorf("[%v]%v is negative", sectionName, optionName)
		optionValue = 0
	}

	return
}

// DumpConfMapToFile outputs the ConfMap to a confFilePath-specified file with the perm-specified os.FileMode
//
// Sections and options are emitted in sorted order so that the output is reproducible.
//
func (confMap ConfMap) DumpConfMapToFile(confFilePath string, perm os.FileMode) (err error) {
	var (
		buf              bytes.Buffer
		optionName       string
		optionNameMaxLen int
		optionNames      []string
		section          ConfMapSection
		sectionName      string
		sectionNames     []string
	)

	sectionNames = make([]string, 0, len(confMap))
	for sectionName = range confMap {
		sectionNames = append(sectionNames, sectionName)
	}
	sort.Strings(sectionNames)

	for sectionIndex, sectionName := range sectionNames {
		if 0 < sectionIndex {
			buf.WriteByte('\n')
		}

		fmt.Fprintf(&buf, "[%s]\n", sectionName)

		section = confMap[sectionName]

		optionNames = make([]string, 0, len(section))
		optionNameMaxLen = 0
		for optionName = range section {
			optionNames = append(optionNames, optionName)
			if len(optionName) > optionNameMaxLen {
				optionNameMaxLen = len(optionName)
			}
		}
		sort.Strings(optionNames)

		for _, optionName = range optionNames {
			fmt.Fprintf(&buf, "%-*s :", optionNameMaxLen, optionName)
			for valueIndex, optionValue := range section[optionName] {
				if 0 < valueIndex {
					buf.WriteByte(',')
				}
				buf.WriteByte(' ')
				buf.WriteString(optionValue)
			}
			buf.WriteByte('\n')
		}
	}

	err = ioutil.WriteFile(confFilePath, buf.Bytes(), perm)

	return
}
