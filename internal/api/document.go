package api

import (
	"time"

	"github.com/dreamware/graphshard/internal/graph"
)

// Document is the JSON form of a fragment.
//
//	{
//	  "graph": "people",
//	  "id": "1",
//	  "properties": [
//	    {"name": "name", "timestamp": 1700000000, "value": {"string": "Austin Harris"}},
//	    {"name": "knows", "value": {"ref": {"graph": "people", "id": "2"}}}
//	  ]
//	}
type Document struct {
	Graph      string     `json:"graph,omitempty"`
	ID         string     `json:"id"`
	Properties []Property `json:"properties"`
}

// Property is one timestamped attribute of a Document.
type Property struct {
	Name      string      `json:"name"`
	Timestamp uint64      `json:"timestamp,omitempty"`
	Value     graph.Value `json:"value"`
}

// Fragment converts d. An empty graph falls back to g, and a zero timestamp
// is replaced with now.
func (d Document) Fragment(g string, now time.Time) *graph.Fragment {
	if d.Graph != "" {
		g = d.Graph
	}
	f := graph.NewFragment(graph.NewNodeID(g, d.ID))
	for _, p := range d.Properties {
		ts := p.Timestamp
		if ts == 0 {
			ts = uint64(now.Unix())
		}
		f.Add(graph.NewKey(ts, p.Name), p.Value)
	}
	return f
}

// FromFragment converts a stored fragment into its JSON form.
func FromFragment(f *graph.Fragment) Document {
	id := f.NodeID()
	d := Document{Graph: id.Graph, ID: id.ID, Properties: make([]Property, 0, f.Len())}
	for i, k := range f.Keys {
		d.Properties = append(d.Properties, Property{Name: k.Name, Timestamp: k.Timestamp, Value: f.Values[i]})
	}
	return d
}
