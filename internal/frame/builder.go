package frame

// Descriptor is one tree-insertable frame produced by a frame processor.
// A record yields its descriptors root to leaf; every descriptor of a record
// carries the record's samples and weight.
type Descriptor struct {
	Name    string
	Line    int32
	BCI     int32
	Type    Type
	IsTop   bool
	Samples int64
	Weight  int64
}

// Builder folds descriptor sequences into a Tree. A Builder is used by one
// goroutine; parallel builds use one Builder per partition.
type Builder struct {
	tree    *Tree
	records int
	built   bool
}

// NewBuilder returns a builder over an empty tree.
func NewBuilder() *Builder {
	return &Builder{tree: newTree()}
}

// Add inserts the descriptors of one record. Counters along the path only
// grow. An empty slice (a record without a stack) leaves the tree untouched.
func (b *Builder) Add(descs []Descriptor) {
	if b.built {
		panic("frame: Add on a built tree")
	}
	if len(descs) == 0 {
		return
	}
	t := b.tree
	root := &t.nodes[RootID]
	root.totalSamples += descs[0].Samples
	root.totalWeight += descs[0].Weight

	cur := RootID
	for _, d := range descs {
		id := t.childOrCreate(cur, d.Name, d.Type)
		n := &t.nodes[id]
		n.totalSamples += d.Samples
		n.totalWeight += d.Weight
		if d.Type < numTypes {
			n.typeSamples[d.Type] += d.Samples
		}
		if d.IsTop {
			n.self = true
			n.selfSamples += d.Samples
			n.selfWeight += d.Weight
		}
		cur = id
	}
	b.records++
}

// Records returns the number of records added so far.
func (b *Builder) Records() int {
	return b.records
}

// Build seals and returns the tree. The builder cannot be used afterwards.
func (b *Builder) Build() *Tree {
	if b.built {
		panic("frame: Build called twice")
	}
	b.built = true
	t := b.tree
	for i := range t.nodes {
		t.nodes[i].typ = t.nodes[i].dominantType()
	}
	b.tree = nil
	return t
}
