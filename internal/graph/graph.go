package graph

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
)

// ErrInvalidFragment is returned by Validate when a fragment cannot be stored.
var ErrInvalidFragment = errors.New("invalid fragment")

// DefaultGraph is the graph name used when a caller does not supply one.
const DefaultGraph = "default"

// NodeID is the logical identity of a node: a graph name plus an id that is
// unique within that graph.
type NodeID struct {
	Graph string `json:"graph"`
	ID    string `json:"id"`
}

// NewNodeID builds a NodeID, falling back to DefaultGraph for an empty graph.
func NewNodeID(graph, id string) NodeID {
	if graph == "" {
		graph = DefaultGraph
	}
	return NodeID{Graph: graph, ID: id}
}

// String renders the id as "graph/id".
func (n NodeID) String() string {
	return n.Graph + "/" + n.ID
}

// IsZero reports whether both parts are empty.
func (n NodeID) IsZero() bool {
	return n.Graph == "" && n.ID == ""
}

// Compare orders ids by graph first and then by local id, both ordinal.
func (n NodeID) Compare(other NodeID) int {
	if c := strings.Compare(n.Graph, other.Graph); c != 0 {
		return c
	}
	return strings.Compare(n.ID, other.ID)
}

// Hash returns a stable FNV-1a hash over graph and id.
// A zero byte separates the two parts so ("ab","c") and ("a","bc") differ.
func (n NodeID) Hash() uint32 {
	h := fnv.New32a()
	h.Write([]byte(n.Graph))
	h.Write([]byte{0})
	h.Write([]byte(n.ID))
	return h.Sum32()
}

// AddressBlock is the addressing envelope around a NodeID.
type AddressBlock struct {
	NodeID NodeID `json:"node_id"`
}

// Key is a versioned attribute name.
type Key struct {
	Timestamp uint64 `json:"timestamp"`
	Name      string `json:"name"`
}

// NewKey builds a key for the given name at timestamp ts.
func NewKey(ts uint64, name string) Key {
	return Key{Timestamp: ts, Name: name}
}

// Fragment is the bag of timestamped attributes stored for one logical node.
// Values[i] is the payload for Keys[i].
type Fragment struct {
	ID     AddressBlock `json:"id"`
	Keys   []Key        `json:"keys"`
	Values []Value      `json:"values"`
}

// NewFragment creates an empty fragment for id.
func NewFragment(id NodeID) *Fragment {
	return &Fragment{ID: AddressBlock{NodeID: id}}
}

// NodeID returns the logical id carried in the fragment's envelope.
func (f *Fragment) NodeID() NodeID {
	return f.ID.NodeID
}

// Add appends one key/value pair.
func (f *Fragment) Add(k Key, v Value) *Fragment {
	f.Keys = append(f.Keys, k)
	f.Values = append(f.Values, v)
	return f
}

// Len returns the number of attributes.
func (f *Fragment) Len() int {
	return len(f.Keys)
}

// Validate checks the structural invariants of a fragment.
func (f *Fragment) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil fragment", ErrInvalidFragment)
	}
	if f.ID.NodeID.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidFragment)
	}
	if strings.ContainsRune(f.ID.NodeID.Graph, 0) {
		return fmt.Errorf("%w: graph %q contains NUL", ErrInvalidFragment, f.ID.NodeID.Graph)
	}
	if len(f.Keys) != len(f.Values) {
		return fmt.Errorf("%w: %d keys but %d values", ErrInvalidFragment, len(f.Keys), len(f.Values))
	}
	for i, v := range f.Values {
		if v.Data == nil {
			return fmt.Errorf("%w: value %d has no data", ErrInvalidFragment, i)
		}
	}
	return nil
}

// Get returns the value stored under name with the greatest timestamp.
func (f *Fragment) Get(name string) (Value, bool) {
	var (
		best  Value
		found bool
		ts    uint64
	)
	for i, k := range f.Keys {
		if k.Name != name {
			continue
		}
		if !found || k.Timestamp >= ts {
			best, ts, found = f.Values[i], k.Timestamp, true
		}
	}
	return best, found
}
