package schema

// EdgeState is the load state of one relationship edge on an instance.
type EdgeState int

const (
	// EdgeUnloaded means the edge value has not been fetched. It is the
	// zero state, so an edge missing from an instance reads as unloaded.
	EdgeUnloaded EdgeState = iota
	// EdgeAbsent is a loaded to-one edge with no related object.
	EdgeAbsent
	// EdgePresent is a loaded to-one edge with a related object.
	EdgePresent
	// EdgeCollection is a loaded to-many edge, possibly empty.
	EdgeCollection
)

// Edge is a relationship edge in one of the four load states.
type Edge struct {
	State EdgeState
	One   Instance
	Many  []Instance
}

// Instance is a loaded (or partially loaded) resource object as the
// evaluator sees it: attribute values by name and relationship edges
// by name. A missing attribute reads as SQL NULL.
type Instance interface {
	ResourceType() string
	Attribute(name string) (any, bool)
	Edge(name string) Edge
}

// Record is a map-backed Instance, used by hosts without mapped structs
// and throughout the tests.
type Record struct {
	Type  string
	Attrs map[string]any
	Edges map[string]Edge
}

func (r *Record) ResourceType() string { return r.Type }

func (r *Record) Attribute(name string) (any, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

func (r *Record) Edge(name string) Edge {
	return r.Edges[name]
}

// LoadedOne wraps a related instance as a loaded-present to-one edge.
func LoadedOne(inst Instance) Edge {
	return Edge{State: EdgePresent, One: inst}
}

// LoadedNone is a loaded to-one edge with no related object.
func LoadedNone() Edge {
	return Edge{State: EdgeAbsent}
}

// LoadedMany wraps related instances as a loaded to-many edge.
func LoadedMany(items ...Instance) Edge {
	return Edge{State: EdgeCollection, Many: items}
}

// Unloaded is an edge whose value has not been fetched.
func Unloaded() Edge {
	return Edge{State: EdgeUnloaded}
}
