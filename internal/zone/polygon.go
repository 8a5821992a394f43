// Package zone implements zone CRUD, the point-in-polygon membership
// test, and the per-(track,zone) entry/exit edge detection described in
// spec §3 and §4.5.
package zone

import "github.com/crowdwatch/crowdwatch/internal/model"

// ContainsPoint reports whether (x,y) lies inside polygon using the
// standard ray-casting algorithm, counting crossings of a horizontal
// ray cast from the point to +infinity.
func ContainsPoint(polygon []model.Point, x, y float64) bool {
	inside := false
	n := len(polygon)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := polygon[i], polygon[j]
		if (pi.Y > y) != (pj.Y > y) {
			xIntersect := (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if x < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

// Contains reports whether a detection box is inside zone, tested on
// the box's bottom-center point per §3/§4.5.
func Contains(z model.Zone, box model.BoundingBox) bool {
	x, y := box.BottomCenter()
	return ContainsPoint(z.Polygon, x, y)
}

// IsSimple reports whether polygon has at least 3 vertices and no two
// non-adjacent edges intersect (§3: "Polygon is simple
// (non-self-intersecting)").
func IsSimple(polygon []model.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		a1, a2 := polygon[i], polygon[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip edges adjacent to edge i (share a vertex).
			if j == i || (j+1)%n == i || j == (i+1)%n {
				continue
			}
			b1, b2 := polygon[j], polygon[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

func segmentsIntersect(p1, p2, p3, p4 model.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return false
}

func cross(a, b, c model.Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}
