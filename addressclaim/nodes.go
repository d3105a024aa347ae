package addressclaim

import (
	"github.com/aldas/go-j1939"
	"sort"
	"time"
)

// Node is other node on the bus that has been seen claiming an address.
type Node struct {
	Address uint8

	NAME uint64
	Name j1939.Name

	// Claimed is when node claimed its current address
	Claimed time.Time
	// LastSeen is when last address claim from that node was seen
	LastSeen time.Time
}

// Nodes is list of known nodes.
type Nodes []Node

type nodeTable struct {
	byName    map[uint64]*Node
	byAddress [256]*Node
}

func newNodeTable() *nodeTable {
	return &nodeTable{
		byName: make(map[uint64]*Node),
	}
}

// update records address claim seen from the bus. Address slot is owned by node with lowest NAME value so claim with
// higher NAME does not take over slot owned by lower NAME. Returns true when slot owner changed.
func (t *nodeTable) update(address uint8, nameValue uint64, now time.Time) bool {
	node, ok := t.byName[nameValue]
	if !ok {
		node = &Node{
			Address: j1939.AddressNull,
			NAME:    nameValue,
			Name:    j1939.NameFromUint64(nameValue),
		}
		t.byName[nameValue] = node
	}
	node.LastSeen = now

	if address >= j1939.AddressNull {
		// node announced that it can not claim an address
		t.release(node)
		return false
	}

	current := t.byAddress[address]
	if current == node {
		return false
	}
	if current != nil && current.NAME < nameValue {
		return false
	}
	if current != nil {
		current.Address = j1939.AddressNull // previous owner lost the slot
	}
	t.release(node)

	node.Address = address
	node.Claimed = now
	t.byAddress[address] = node
	return true
}

func (t *nodeTable) release(node *Node) {
	if node.Address < j1939.AddressNull && t.byAddress[node.Address] == node {
		t.byAddress[node.Address] = nil
	}
	node.Address = j1939.AddressNull
}

func (t *nodeTable) isOccupied(address uint8) bool {
	return t.byAddress[address] != nil
}

func (t *nodeTable) snapshot() Nodes {
	result := make(Nodes, 0, len(t.byName))
	for _, n := range t.byName {
		result = append(result, *n)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Address == result[j].Address {
			return result[i].NAME < result[j].NAME
		}
		return result[i].Address < result[j].Address
	})
	return result
}
