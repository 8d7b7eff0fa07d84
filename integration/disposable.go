// Copyright (c) 2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package integration

import (
	"fmt"
	"strings"
	"sync"
)

// LeakyAsset is a handler for disposable assets like external processes and
// temporary directories.
type LeakyAsset interface {
	Dispose()
}

// LeakyAssetsList keeps track of leaky assets to ensure their proper disposal
// before the process exits.
//
// LeakyAssetsList implements a stack of leaky assets so they can be disposed
// in reverse order of registration.
// Structure: [head>=(0)=(1)=.....=(n-1)=<tail]
// The nodesMap directs given asset to corresponding node for fast search.
type LeakyAssetsList struct {
	size     int
	head     node
	tail     node
	nodesMap map[LeakyAsset]*node
}

// leaksList keeps track of every leaky asset registered by this process.
var leaksList = NewLeakyAssetsList()
var registryAccessController sync.Mutex

// NewLeakyAssetsList returns an empty list.
func NewLeakyAssetsList() *LeakyAssetsList {
	l := &LeakyAssetsList{}
	l.reset()
	return l
}

func (list *LeakyAssetsList) reset() {
	list.tail.previous = &list.head
	list.head.next = &list.tail
	list.size = 0
	list.nodesMap = make(map[LeakyAsset]*node)
}

// node is a double-linked list element storing a leaky asset.
type node struct {
	next     *node
	previous *node
	asset    LeakyAsset
}

// String returns string representation of a node.
func (n *node) String() string {
	return fmt.Sprintf("(%v)", n.asset)
}

// Size of the leaky assets list.
func (list *LeakyAssetsList) Size() int {
	return list.size
}

// Remove element from the list.  It reports whether the element was present.
func (list *LeakyAssetsList) Remove(resource LeakyAsset) bool {
	if resource == nil {
		return false
	}
	toRemove := list.nodesMap[resource]
	if toRemove == nil {
		return false
	}

	delete(list.nodesMap, resource)

	toRemove.next.previous = toRemove.previous
	toRemove.previous.next = toRemove.next

	list.size--
	return true
}

// Contains returns true if element is present in the list.
func (list *LeakyAssetsList) Contains(resource LeakyAsset) bool {
	if resource == nil {
		return false
	}
	return list.nodesMap[resource] != nil
}

// Add element to the list.
func (list *LeakyAssetsList) Add(resource LeakyAsset) {
	if resource == nil {
		return
	}

	newNode := &node{asset: resource}

	list.nodesMap[resource] = newNode

	last := list.tail.previous

	last.next = newNode
	newNode.next = &list.tail

	newNode.previous = last
	list.tail.previous = newNode

	list.size++
}

// Reversed returns the assets from the most to the least recently added.
func (list *LeakyAssetsList) Reversed() []LeakyAsset {
	assets := make([]LeakyAsset, 0, list.size)
	for current := list.tail.previous; current != &list.head; current = current.previous {
		assets = append(assets, current.asset)
	}
	return assets
}

// String lists the assets in registration order.
func (list *LeakyAssetsList) String() string {
	parts := make([]string, 0, list.size)
	for current := list.head.next; current != &list.tail; current = current.next {
		parts = append(parts, current.String())
	}
	return "[" + strings.Join(parts, "=") + "]"
}

// RegisterDisposableAsset registers a disposable asset.  Registering the same
// asset twice is an error.
func RegisterDisposableAsset(resource LeakyAsset) error {
	registryAccessController.Lock()
	defer registryAccessController.Unlock()

	if leaksList.Contains(resource) {
		return fmt.Errorf("LeakyAsset is already registered: %v", resource)
	}
	leaksList.Add(resource)
	return nil
}

// DeRegisterDisposableAsset removes a disposable asset from the registry and
// reports whether it was registered.  Assets already taken by
// ForceDisposeLeakyAssets are no longer registered.
func DeRegisterDisposableAsset(resource LeakyAsset) bool {
	registryAccessController.Lock()
	defer registryAccessController.Unlock()

	return leaksList.Remove(resource)
}

// VerifyNoAssetsLeaked checks all leaky assets were properly disposed.
func VerifyNoAssetsLeaked() error {
	registryAccessController.Lock()
	defer registryAccessController.Unlock()

	if leaksList.Size() != 0 {
		return fmt.Errorf("incorrect state: resources leak detected: %v",
			leaksList)
	}
	return nil
}

// RegisteredAssets returns the number of assets currently registered.
func RegisteredAssets() int {
	registryAccessController.Lock()
	defer registryAccessController.Unlock()

	return leaksList.Size()
}

// ForceDisposeLeakyAssets disposes every registered asset in reverse order of
// registration and returns how many were disposed.
func ForceDisposeLeakyAssets() int {
	registryAccessController.Lock()
	disposeList := leaksList.Reversed()
	leaksList.reset()
	registryAccessController.Unlock()

	for _, asset := range disposeList {
		asset.Dispose()
	}
	return len(disposeList)
}
