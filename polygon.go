package shapefile

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// assembleRings groups the rings of a polygon record into polygons.
// Clockwise rings are shells; counter-clockwise rings are holes and belong
// to the first shell that contains them. A hole with no containing shell,
// or a record without any clockwise ring, becomes a polygon of its own.
// order lists the ring indexes in the order they appear in the result.
func assembleRings(rings []orb.Ring) (mp orb.MultiPolygon, order []int) {
	var shells, holes []int
	for i, r := range rings {
		if r.Orientation() == orb.CCW {
			holes = append(holes, i)
		} else {
			shells = append(shells, i)
		}
	}
	if len(shells) == 0 {
		shells, holes = holes, nil
	}

	members := make(map[int][]int, len(shells))
	var orphans []int
	for _, h := range holes {
		owner := -1
		for _, s := range shells {
			if ringWithin(rings[h], rings[s]) {
				owner = s
				break
			}
		}
		if owner < 0 {
			orphans = append(orphans, h)
			continue
		}
		members[owner] = append(members[owner], h)
	}

	for _, s := range shells {
		poly := orb.Polygon{rings[s]}
		order = append(order, s)
		for _, h := range members[s] {
			poly = append(poly, rings[h])
			order = append(order, h)
		}
		mp = append(mp, poly)
	}
	for _, h := range orphans {
		mp = append(mp, orb.Polygon{rings[h]})
		order = append(order, h)
	}
	return mp, order
}

func ringWithin(inner, outer orb.Ring) bool {
	if len(inner) == 0 || len(outer) == 0 {
		return false
	}
	ob := outer.Bound()
	ib := inner.Bound()
	if !ob.Contains(ib.Min) || !ob.Contains(ib.Max) {
		return false
	}
	for _, p := range inner {
		if planar.RingContains(outer, p) {
			return true
		}
	}
	return false
}

// permuteRings reorders per-vertex values to follow the ring order chosen by
// assembleRings.
func permuteRings(vs []float64, parts []int32, numPoints int, order []int) []float64 {
	if vs == nil {
		return nil
	}
	out := make([]float64, 0, len(vs))
	for _, i := range order {
		start, end := partRange(parts, numPoints, i)
		out = append(out, vs[start:end]...)
	}
	return out
}

// orientPolygons returns a copy of mp with shells clockwise and holes
// counter-clockwise, reversing the matching runs of z and m.
func orientPolygons(mp orb.MultiPolygon, z, m []float64) (orb.MultiPolygon, []float64, []float64) {
	out := make(orb.MultiPolygon, len(mp))
	var zo, mo []float64
	if z != nil {
		zo = make([]float64, 0, len(z))
	}
	if m != nil {
		mo = make([]float64, 0, len(m))
	}
	off := 0
	for i, poly := range mp {
		out[i] = make(orb.Polygon, len(poly))
		for j, r := range poly {
			want := orb.CCW
			if j == 0 {
				want = orb.CW
			}
			n := len(r)
			open := !closed(r)
			c := copyRing(r, open)
			o := c.Orientation()
			flip := o != want && o != 0
			if flip {
				c.Reverse()
			}
			out[i][j] = c
			zo = appendRun(zo, z, off, n, open, flip)
			mo = appendRun(mo, m, off, n, open, flip)
			off += n
		}
	}
	return out, zo, mo
}

// closed reports whether the ring ends on its first vertex. Empty rings
// count as closed.
func closed(r orb.Ring) bool {
	return len(r) == 0 || r[0] == r[len(r)-1]
}

// openRings counts the rings of a multipolygon that are missing their
// closing vertex.
func openRings(g orb.Geometry) int {
	mp, ok := g.(orb.MultiPolygon)
	if !ok {
		return 0
	}
	n := 0
	for _, p := range mp {
		for _, r := range p {
			if !closed(r) {
				n++
			}
		}
	}
	return n
}

// copyRing copies r, appending the first vertex when closing is set.
func copyRing(r orb.Ring, closing bool) orb.Ring {
	c := make(orb.Ring, len(r), len(r)+1)
	copy(c, r)
	if closing {
		c = append(c, r[0])
	}
	return c
}

// appendRun appends src[off:off+n] to dst, repeating the first value to
// close the run and reversing it to follow its ring.
func appendRun(dst, src []float64, off, n int, closing, reverse bool) []float64 {
	if src == nil || off+n > len(src) {
		return dst
	}
	start := len(dst)
	dst = append(dst, src[off:off+n]...)
	if closing && n > 0 {
		dst = append(dst, src[off])
	}
	if reverse {
		run := dst[start:]
		for i, j := 0, len(run)-1; i < j; i, j = i+1, j-1 {
			run[i], run[j] = run[j], run[i]
		}
	}
	return dst
}
