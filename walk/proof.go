package walk

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
)

// account checks the top-level fields: each contiguous field lies inside the
// input, no two overlap, and together with the scattered fields they sum to
// the input length.
func (w *walker) account() {
	p := &w.proof
	p.AccountedBytes = lo.SumBy(p.Fields, func(f Field) int { return f.Length })

	for _, f := range p.Fields {
		if f.Length < 0 || f.Offset < 0 || f.Offset > p.InputLength-f.Length {
			w.defect("field %s: range [%d, %d) outside input of %d bytes", f.Name, f.Offset, f.Offset+f.Length, p.InputLength)
		}
	}

	ranges := lo.Filter(p.Fields, func(f Field, _ int) bool { return !f.Scattered })
	slices.SortStableFunc(ranges, func(a, b Field) int { return cmp.Compare(a.Offset, b.Offset) })
	for i := 1; i < len(ranges); i++ {
		prev, cur := ranges[i-1], ranges[i]
		if cur.Offset < prev.Offset+prev.Length {
			w.defect("field %s overlaps %s at offset %d", cur.Name, prev.Name, cur.Offset)
		}
	}

	switch diff := p.InputLength - p.AccountedBytes; {
	case diff > 0:
		w.defect("%d of %d bytes unaccounted", diff, p.InputLength)
	case diff < 0:
		w.defect("%d bytes accounted more than once", -diff)
	}
}
