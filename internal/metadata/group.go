package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Group routes field operations across an ordered set of blocks. Updates are
// not transactional across blocks.
type Group struct {
	blocks []*Block
}

// NewGroup returns a group of blocks in routing order.
func NewGroup(blocks ...*Block) *Group {
	g := &Group{}
	for _, b := range blocks {
		g.AddBlock(b)
	}
	return g
}

// AddBlock appends b. A block with the same name replaces the earlier one in place.
func (g *Group) AddBlock(b *Block) {
	for i, x := range g.blocks {
		if x.Name() == b.Name() {
			g.blocks[i] = b
			return
		}
	}
	g.blocks = append(g.blocks, b)
}

// Block looks up a block by name.
func (g *Group) Block(name string) (*Block, bool) {
	for _, b := range g.blocks {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// Blocks returns the blocks in routing order.
func (g *Group) Blocks() []*Block {
	out := make([]*Block, len(g.blocks))
	copy(out, g.blocks)
	return out
}

// Names returns the block names in routing order.
func (g *Group) Names() []string {
	out := make([]string, len(g.blocks))
	for i, b := range g.blocks {
		out[i] = b.Name()
	}
	return out
}

// Owner returns the first block whose schema declares name.
func (g *Group) Owner(name string) (*Block, bool) {
	for _, b := range g.blocks {
		if b.IsRecognized(name) {
			return b, true
		}
	}
	return nil, false
}

// SetField delegates to the first block that declares name.
func (g *Group) SetField(name string, value any, unit string) error {
	b, ok := g.Owner(name)
	if !ok {
		return &UnknownFieldError{Field: name, Blocks: g.Names()}
	}
	return b.SetField(name, value, unit)
}

// ToWire concatenates the wire documents of every block.
func (g *Group) ToWire() Document {
	doc := make(Document, len(g.blocks))
	for _, b := range g.blocks {
		doc.Merge(b.ToWire())
	}
	return doc
}

// FromWire loads each block entry of doc into the block of the same name.
// Blocks absent from doc keep their data.
func (g *Group) FromWire(doc Document) error {
	for _, name := range doc.BlockNames() {
		b, ok := g.Block(name)
		if !ok {
			return &UnknownFieldError{Field: name, Blocks: g.Names()}
		}
		if err := b.FromWire(Document{name: doc[name]}); err != nil {
			return err
		}
	}
	return nil
}

// Flatten returns block name to flat metadata.
func (g *Group) Flatten() map[string]map[string]any {
	out := make(map[string]map[string]any, len(g.blocks))
	for _, b := range g.blocks {
		out[b.Name()] = b.Flatten()
	}
	return out
}

// LoadFlat loads block name to flat metadata.
func (g *Group) LoadFlat(m map[string]map[string]any) error {
	for _, name := range sortedKeys(m) {
		b, ok := g.Block(name)
		if !ok {
			return &UnknownFieldError{Field: name, Blocks: g.Names()}
		}
		if err := b.LoadFlat(m[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Keys returns the populated top-level fields per block.
func (g *Group) Keys() map[string][]string {
	out := make(map[string][]string, len(g.blocks))
	for _, b := range g.blocks {
		out[b.Name()] = b.Keys()
	}
	return out
}

// Validate checks every block for missing required metadata.
func (g *Group) Validate() error {
	var msgs []string
	for _, b := range g.blocks {
		if err := b.Validate(); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return &StructuralError{Reason: strings.Join(msgs, "; ")}
	}
	return nil
}

// Reset clears every block.
func (g *Group) Reset() {
	for _, b := range g.blocks {
		b.Reset()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
