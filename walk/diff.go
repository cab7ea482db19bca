package walk

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/zeebo/blake3"
)

// Fingerprint returns the BLAKE3-256 digest of the report's JSON encoding in
// hex. Equal reports have equal fingerprints.
func (r *Report) Fingerprint() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("walk: encoding report: %w", err)
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Change operations.
const (
	Added   = "added"
	Removed = "removed"
	Changed = "changed"
)

// Change is one path that differs between two reports.
type Change struct {
	Path string `json:"path" yaml:"path"`
	Op   string `json:"op" yaml:"op"`
	// Before and After are the SHA-256 digests on each side.
	Before string `json:"before,omitempty" yaml:"before,omitempty"`
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
}

// Diff lists the paths added, removed or whose bytes or kind changed from a
// to b, ordered by path.
func Diff(a, b *Report) []Change {
	before := lo.KeyBy(a.Nodes, func(n Node) string { return n.Path })
	after := lo.KeyBy(b.Nodes, func(n Node) string { return n.Path })

	paths := lo.Union(lo.Keys(before), lo.Keys(after))
	slices.Sort(paths)

	var changes []Change
	for _, p := range paths {
		x, inA := before[p]
		y, inB := after[p]
		switch {
		case !inB:
			changes = append(changes, Change{Path: p, Op: Removed, Before: x.SHA256})
		case !inA:
			changes = append(changes, Change{Path: p, Op: Added, After: y.SHA256})
		case x.SHA256 != y.SHA256 || x.Kind != y.Kind:
			changes = append(changes, Change{Path: p, Op: Changed, Before: x.SHA256, After: y.SHA256})
		}
	}
	return changes
}
