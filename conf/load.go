// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// RegEx components used below:

const assignment = "([ \t]*[=:][ \t]*)"
const dot = "(\\.)"
const leftBracket = "(\\[)"
const rightBracket = "(\\])"
const sectionName = "([0-9A-Za-z_\\-/:\\.]+)"
const separator = "([ \t]+|([ \t]*,[ \t]*))"
const token = "(([0-9A-Za-z_\\*\\-/:\\.\\[\\]]+)\\$?)"
const whiteSpace = "([ \t]+)"

// A string to load looks like:
//
//   <section_name_0>.<option_name_0> =
//     or
//   <section_name_1>.<option_name_1> : <value_1>
//     or
//   <section_name_2>.<option_name_2> = <value_2>, <value_3>
//     or
//   <section_name_3>.<option_name_3> : <value_4> <value_5>,<value_6>

var stringRE = regexp.MustCompile("\\A" + token + dot + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var sectionNameOptionNameSeparatorRE = regexp.MustCompile(dot)

// A .INI/.conf file to load typically looks like:
//
//   [<section_name_1>]
//   <option_name_0> :
//   <option_name_1> = <value_1>
//   <option_name_2> : <value_2> <value_3>
//
//   # A comment on it's own line starting with '#'
//   ; A comment on it's own line starting with ';'
//
//   [<section_name_2>]          ; A comment at the end of a line starting with ';'
//   <option_name_4> : <value_7> # A comment at the end of a line starting with '#'
//
//   .include <included .INI/.conf path relative to this file unless starting with '/'>

var sectionHeaderLineRE = regexp.MustCompile("\\A" + leftBracket + token + rightBracket + "\\z")
var sectionNameRE = regexp.MustCompile(sectionName)
var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var optionNameOptionValuesSeparatorRE = regexp.MustCompile(assignment)
var optionValueSeparatorRE = regexp.MustCompile(separator)
var includeLineRE = regexp.MustCompile("\\A\\.include" + whiteSpace + token + "\\z")
var includeFilePathSeparatorRE = regexp.MustCompile(whiteSpace)

func splitOptionValues(optionValues string) (optionValuesSplit []string) {
	optionValuesSplit = optionValueSeparatorRE.Split(optionValues, -1)

	if (1 == len(optionValuesSplit)) && ("" == optionValuesSplit[0]) {
		optionValuesSplit = []string{}
	}

	return
}

// UpdateFromString modifies a pre-existing ConfMap based on an update
// specified in confString (e.g., from an extra command-line argument)
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		confStringTrimmed string
		optionNameValues  []string
		sectionOption     []string
	)

	confStringTrimmed = strings.Trim(confString, " \t")

	if 0 == len(confStringTrimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	if !stringRE.MatchString(confStringTrimmed) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	sectionOption = sectionNameOptionNameSeparatorRE.Split(confStringTrimmed, 2)
	optionNameValues = optionNameOptionValuesSeparatorRE.Split(sectionOption[1], 2)

	confMap.setOption(sectionOption[0], optionNameValues[0], splitOptionValues(optionNameValues[1]))

	err = nil
	return
}

// UpdateFromStrings applies UpdateFromString to each of confStrings in order
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// UpdateFromFile modifies a pre-existing ConfMap based on updates specified in confFilePath
//
// A confFilePath of "-" reads from os.Stdin.
//
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFileBytes      []byte
		currentSectionName string
		line               string
		lineNumber         int
		lines              []string
		nestedConfFilePath string
		optionNameValues   []string
	)

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	if !utf8.Valid(confFileBytes) {
		err = fmt.Errorf("file %v contained invalid UTF-8", confFilePath)
		return
	}

	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = fmt.Errorf("file %v did not end in a '\\n' character", confFilePath)
		return
	}

	lines = strings.Split(string(confFileBytes), "\n")

	for lineNumber, line = range lines {
		line = strings.SplitN(line, ";", 2)[0]
		line = strings.SplitN(line, "#", 2)[0]
		line = strings.Trim(line, " \t\r")

		if 0 == len(line) {
			continue
		}

		switch {
		case includeLineRE.MatchString(line):
			nestedConfFilePath = includeFilePathSeparatorRE.Split(line, 2)[1]

			if !filepath.IsAbs(nestedConfFilePath) {
				nestedConfFilePath = filepath.Join(filepath.Dir(confFilePath), nestedConfFilePath)
			}

			err = confMap.UpdateFromFile(nestedConfFilePath)
			if nil != err {
				return
			}

			currentSectionName = ""
		case sectionHeaderLineRE.MatchString(line):
			currentSectionName = sectionNameRE.FindString(line)
		default:
			if "" == currentSectionName {
				err = fmt.Errorf("file %v line %d: option outside of any Section", confFilePath, lineNumber+1)
				return
			}

			if !optionLineRE.MatchString(line) {
				err = fmt.Errorf("file %v line %d: malformed line '%v'", confFilePath, lineNumber+1, line)
				return
			}

			optionNameValues = optionNameOptionValuesSeparatorRE.Split(line, 2)

			confMap.setOption(currentSectionName, optionNameValues[0], splitOptionValues(optionNameValues[1]))
		}
	}

	err = nil
	return
}
