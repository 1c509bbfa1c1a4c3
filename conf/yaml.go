// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// UpdateFromYAMLFile modifies a pre-existing ConfMap based on a YAML document of the form:
//
//   <section_name>:
//     <option_name_0>: <scalar>
//     <option_name_1>: [<scalar>, <scalar>]
//     <option_name_2>:
//
// A null option value produces an empty option (as would "<option_name> =" in a .conf file).
//
func (confMap ConfMap) UpdateFromYAMLFile(yamlFilePath string) (err error) {
	var (
		yamlBytes []byte
	)

	yamlBytes, err = ioutil.ReadFile(yamlFilePath)
	if nil != err {
		return
	}

	err = confMap.UpdateFromYAML(yamlBytes)
	if nil != err {
		err = fmt.Errorf("file %v: %v", yamlFilePath, err)
	}

	return
}

// UpdateFromYAML is UpdateFromYAMLFile operating on an in-memory document
func (confMap ConfMap) UpdateFromYAML(yamlBytes []byte) (err error) {
	var (
		document map[string]map[string]yaml.Node
	)

	err = yaml.Unmarshal(yamlBytes, &document)
	if nil != err {
		return
	}

	for sectionName, section := range document {
		for optionName, node := range section {
			var optionValues []string

			switch node.Kind {
			case 0:
				optionValues = []string{}
			case yaml.ScalarNode:
				if "!!null" == node.Tag {
					optionValues = []string{}
				} else {
					optionValues = []string{node.Value}
				}
			case yaml.SequenceNode:
				optionValues = make([]string, 0, len(node.Content))
				for _, element := range node.Content {
					if yaml.ScalarNode != element.Kind {
						err = fmt.Errorf("%v.%v: sequence elements must be scalars", sectionName, optionName)
						return
					}
					optionValues = append(optionValues, element.Value)
				}
			default:
				err = fmt.Errorf("%v.%v: value must be a scalar or a sequence of scalars", sectionName, optionName)
				return
			}

			confMap.setOption(sectionName, optionName, optionValues)
		}
	}

	return
}
