// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package commandline

import (
	"fmt"
	"sort"
)

var (
	// NoArgumentValue indicates flag has name but no value to provide,
	// example: "--someflag"
	NoArgumentValue interface{} = &struct{}{} // stub object

	// NoArgument indicates the argument should be omitted from console command
	NoArgument = ""
	// NoArgumentNil indicates the argument should be omitted from console command
	NoArgumentNil interface{} // =nil

	// See ArgumentsToStringArray to understand how these constants are used
)

// ArgumentsToStringArray converts map to an array of command line arguments
// taking in account NoArgumentValue and NoArgument indicators above.  The
// result is sorted by flag name so the same map always yields the same
// command line.
func ArgumentsToStringArray(args map[string]interface{}) []string {
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		value := args[key]
		switch {
		case value == NoArgument || value == NoArgumentNil:
			// skip key
		case value == NoArgumentValue:
			result = append(result, fmt.Sprintf("--%s", key))
		default:
			result = append(result, fmt.Sprintf("--%s=%v", key, value))
		}
	}
	return result
}

// ArgumentsCopyTo helps to append commandline arguments from one map to another
func ArgumentsCopyTo(from map[string]interface{}, to map[string]interface{}) map[string]interface{} {
	for key, value := range from {
		to[key] = value
	}
	return to
}
