// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package scenarios

import (
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/chainharness/harness"
)

// defaultTimeout bounds the waits of the scenarios for the network to settle.
const defaultTimeout = 60 * time.Second

// Registry maps scenario names to their constructors.
var Registry = map[string]func() harness.Scenario{
	"create_cache": func() harness.Scenario {
		return &CreateCache{}
	},
	"connect_ring": func() harness.Scenario {
		return &ConnectRing{Timeout: defaultTimeout}
	},
	"mine_and_sync": func() harness.Scenario {
		return &MineAndSync{Blocks: 10, Timeout: defaultTimeout}
	},
}

// Names returns the registered scenario names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a new instance of the named scenario.
func Lookup(name string) (harness.Scenario, error) {
	newScenario, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q -- supported "+
			"scenarios %v", name, Names())
	}
	return newScenario(), nil
}
