package landcover

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// containsPoint reports whether p lies inside the areal parts of g. Points
// and lines contain nothing.
func containsPoint(g orb.Geometry, p orb.Point) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Ring:
		return planar.RingContains(g, p)
	case orb.Bound:
		return g.Contains(p)
	case orb.Collection:
		for _, c := range g {
			if containsPoint(c, p) {
				return true
			}
		}
	}
	return false
}

// pixelsIn calls fn for every pixel of grid selected by g, in row-major
// order: the enclosing pixel of each point, and every pixel whose center
// lies inside a polygon. A pixel selected by several parts of g is visited
// once.
func pixelsIn(grid Grid, g orb.Geometry, fn func(x, y int)) {
	seen := map[int]struct{}{}
	visit := func(x, y int) {
		k := y*grid.Width + x
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		fn(x, y)
	}
	var walk func(orb.Geometry)
	walk = func(g orb.Geometry) {
		switch g := g.(type) {
		case orb.Point:
			if x, y, ok := grid.PixelAt(g); ok {
				visit(x, y)
			}
		case orb.MultiPoint:
			for _, p := range g {
				walk(p)
			}
		case orb.Collection:
			for _, c := range g {
				walk(c)
			}
		case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
			x0, y0, x1, y1 := grid.window(g.Bound())
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if containsPoint(g, grid.PixelCenter(x, y)) {
						visit(x, y)
					}
				}
			}
		}
	}
	walk(g)
}
