package territory

// Incremental 3D convex hull over voxel center coordinates. Points are
// inserted in input order with faces oriented away from an interior
// reference point, so the resulting hull (and its volume) is identical
// run to run.

type vec3 struct {
	x, y, z float64
}

func sub(a, b vec3) vec3 {
	return vec3{a.x - b.x, a.y - b.y, a.z - b.z}
}

func cross(a, b vec3) vec3 {
	return vec3{
		a.y*b.z - a.z*b.y,
		a.z*b.x - a.x*b.z,
		a.x*b.y - a.y*b.x,
	}
}

func dot(a, b vec3) float64 {
	return a.x*b.x + a.y*b.y + a.z*b.z
}

func scale(a vec3, s float64) vec3 {
	return vec3{a.x * s, a.y * s, a.z * s}
}

func add(a, b vec3) vec3 {
	return vec3{a.x + b.x, a.y + b.y, a.z + b.z}
}

const hullEpsilon = 1e-9

type face struct {
	a, b, c int
	normal  vec3
	offset  float64
	alive   bool
}

func newFace(points []vec3, a, b, c int, interior vec3) face {
	n := cross(sub(points[b], points[a]), sub(points[c], points[a]))
	f := face{a: a, b: b, c: c, normal: n, alive: true}
	if dot(n, sub(interior, points[a])) > 0 {
		// Flip so the normal points outward.
		f.b, f.c = c, b
		f.normal = scale(n, -1)
	}
	f.offset = dot(f.normal, points[f.a])
	return f
}

func (f face) visibleFrom(p vec3) bool {
	return dot(f.normal, p)-f.offset > hullEpsilon
}

// hullVolume computes the volume of the convex hull of the points. The
// second return value is false when the points are degenerate (fewer
// than four points, or all collinear/coplanar), in which case the hull
// volume is zero.
func hullVolume(points []vec3) (float64, bool) {
	if len(points) < 4 {
		return 0, false
	}

	tetra, ok := initialTetrahedron(points)
	if !ok {
		return 0, false
	}

	interior := scale(add(add(points[tetra[0]], points[tetra[1]]),
		add(points[tetra[2]], points[tetra[3]])), 0.25)

	faces := []face{
		newFace(points, tetra[0], tetra[1], tetra[2], interior),
		newFace(points, tetra[0], tetra[1], tetra[3], interior),
		newFace(points, tetra[0], tetra[2], tetra[3], interior),
		newFace(points, tetra[1], tetra[2], tetra[3], interior),
	}

	used := map[int]bool{tetra[0]: true, tetra[1]: true, tetra[2]: true, tetra[3]: true}
	for i, p := range points {
		if used[i] {
			continue
		}

		// Collect faces visible from p; their once-counted edges form
		// the horizon.
		type edge struct{ u, v int }
		edgeCount := map[edge]int{}
		anyVisible := false
		for fi := range faces {
			f := &faces[fi]
			if !f.alive || !f.visibleFrom(p) {
				continue
			}
			anyVisible = true
			f.alive = false
			for _, e := range [][2]int{{f.a, f.b}, {f.b, f.c}, {f.c, f.a}} {
				u, v := e[0], e[1]
				if u > v {
					u, v = v, u
				}
				edgeCount[edge{u, v}]++
			}
		}
		if !anyVisible {
			continue
		}

		for e, count := range edgeCount {
			if count == 1 {
				faces = append(faces, newFace(points, e.u, e.v, i, interior))
			}
		}
	}

	// Sum signed tetrahedron volumes from the origin over outward faces.
	vol := 0.0
	for _, f := range faces {
		if !f.alive {
			continue
		}
		vol += dot(points[f.a], cross(points[f.b], points[f.c]))
	}
	return vol / 6.0, true
}

// initialTetrahedron picks four non-coplanar points deterministically:
// the first point, the first point distinct from it, the first point
// not collinear with those, and the first point not coplanar with the
// resulting triangle.
func initialTetrahedron(points []vec3) ([4]int, bool) {
	var t [4]int
	t[0] = 0

	found := false
	for i := 1; i < len(points); i++ {
		d := sub(points[i], points[t[0]])
		if dot(d, d) > hullEpsilon {
			t[1] = i
			found = true
			break
		}
	}
	if !found {
		return t, false
	}

	found = false
	for i := t[1] + 1; i < len(points); i++ {
		c := cross(sub(points[t[1]], points[t[0]]), sub(points[i], points[t[0]]))
		if dot(c, c) > hullEpsilon {
			t[2] = i
			found = true
			break
		}
	}
	if !found {
		return t, false
	}

	normal := cross(sub(points[t[1]], points[t[0]]), sub(points[t[2]], points[t[0]]))
	for i := t[2] + 1; i < len(points); i++ {
		if d := dot(normal, sub(points[i], points[t[0]])); d > hullEpsilon || d < -hullEpsilon {
			t[3] = i
			return t, true
		}
	}
	return t, false
}
