// Package session reads and writes metadata sessions as YAML documents.
//
// A session document holds one top-level mapping per block, each preceded by
// a "# <name> metadata block version <version>" comment:
//
//	# LMTData metadata block version 1.2.1
//	LMTData:
//	  projectID: 2021-S1-US-3
//	  band:
//	    - bandNum: 1
//	      formula: CS
package session

import (
	"bytes"
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/toltec-astro/dvpipe/internal/metadata"
)

var headerRe = regexp.MustCompile(`(?m)^#\s*(\S+) metadata block version (.+?)\s*$`)

// Encode writes every block of g, in group order.
func Encode(w io.Writer, g *metadata.Group) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, b := range g.Blocks() {
		key := &yaml.Node{
			Kind:        yaml.ScalarNode,
			Value:       b.Name(),
			HeadComment: fmt.Sprintf("%s metadata block version %s", b.Name(), b.Version()),
		}
		body, err := blockNode(b)
		if err != nil {
			return err
		}
		doc.Content = append(doc.Content, key, body)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	return enc.Close()
}

// Marshal returns the session document of g.
func Marshal(g *metadata.Group) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blockNode(b *metadata.Block) (*yaml.Node, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range b.Keys() {
		var val *yaml.Node
		if b.IsParent(name) {
			val = &yaml.Node{Kind: yaml.SequenceNode}
			for _, rec := range b.Groups(name) {
				rn := &yaml.Node{Kind: yaml.MappingNode}
				for _, c := range b.Children(name) {
					v, ok := rec[c]
					if !ok {
						continue
					}
					cn, err := scalarNode(v)
					if err != nil {
						return nil, fmt.Errorf("session: %s.%s: %w", name, c, err)
					}
					rn.Content = append(rn.Content, strNode(c), cn)
				}
				val.Content = append(val.Content, rn)
			}
		} else if vals := b.Values(name); len(vals) > 1 {
			val = &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, v := range vals {
				sn, err := scalarNode(v)
				if err != nil {
					return nil, fmt.Errorf("session: %s: %w", name, err)
				}
				val.Content = append(val.Content, sn)
			}
		} else {
			sn, err := scalarNode(vals[0])
			if err != nil {
				return nil, fmt.Errorf("session: %s: %w", name, err)
			}
			val = sn
		}
		n.Content = append(n.Content, strNode(name), val)
	}
	return n, nil
}

func strNode(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: s}
}

func scalarNode(v metadata.Value) (*yaml.Node, error) {
	n := &yaml.Node{}
	if err := n.Encode(v.Interface()); err != nil {
		return nil, err
	}
	return n, nil
}

// Decode reads a session document into g. Every value is replayed through
// validation; blocks missing from the document keep their data.
func Decode(r io.Reader, g *metadata.Group) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("session: read: %w", err)
	}
	return Unmarshal(data, g)
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(data []byte, g *metadata.Group) error {
	var m map[string]map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return &metadata.StructuralError{Reason: "malformed session document: " + err.Error()}
	}
	return g.LoadFlat(m)
}

// Versions returns the block versions named by the header comments of data.
func Versions(data []byte) map[string]string {
	out := make(map[string]string)
	for _, m := range headerRe.FindAllSubmatch(data, -1) {
		out[string(m[1])] = string(m[2])
	}
	return out
}
