package main

import "math"

// contact describes the overlap of body a with body b.
// Normal points from b towards a; moving a by Normal*Depth separates them.
type contact struct {
	Normal Vec3
	Depth  float64
}

// CheckCollision checks if two spheres overlap
func CheckCollision(a Vec3, ra float64, b Vec3, rb float64) bool {
	d := a.Sub(b)
	radSum := ra + rb
	return d.X*d.X+d.Y*d.Y+d.Z*d.Z <= radSum*radSum
}

// aabbOverlap reports whether two axis-aligned boxes intersect
func aabbOverlap(ca, ha, cb, hb Vec3) bool {
	return math.Abs(ca.X-cb.X) < ha.X+hb.X &&
		math.Abs(ca.Y-cb.Y) < ha.Y+hb.Y &&
		math.Abs(ca.Z-cb.Z) < ha.Z+hb.Z
}

// boxBoxContact separates along the axis of least penetration
func boxBoxContact(ca, ha, cb, hb Vec3) (contact, bool) {
	if !aabbOverlap(ca, ha, cb, hb) {
		return contact{}, false
	}
	best := contact{Depth: math.Inf(1)}
	for axis := 0; axis < 3; axis++ {
		d := ca.Axis(axis) - cb.Axis(axis)
		pen := ha.Axis(axis) + hb.Axis(axis) - math.Abs(d)
		if pen < best.Depth {
			sign := 1.0
			if d < 0 {
				sign = -1
			}
			best = contact{Normal: Vec3{}.WithAxis(axis, sign), Depth: pen}
		}
	}
	return best, true
}

// sphereBoxContact finds the contact of a sphere (a) against a box (b)
func sphereBoxContact(ca Vec3, r float64, cb, hb Vec3) (contact, bool) {
	closest := Vec3{
		X: Clamp(ca.X, cb.X-hb.X, cb.X+hb.X),
		Y: Clamp(ca.Y, cb.Y-hb.Y, cb.Y+hb.Y),
		Z: Clamp(ca.Z, cb.Z-hb.Z, cb.Z+hb.Z),
	}
	d := ca.Sub(closest)
	dist := d.Len()
	if dist >= r {
		return contact{}, false
	}
	if dist > 1e-9 {
		return contact{Normal: d.Scale(1 / dist), Depth: r - dist}, true
	}
	// centre inside the box
	return boxBoxContact(ca, Vec3{r, r, r}, cb, hb)
}

// sphereSphereContact finds the contact of sphere a against sphere b
func sphereSphereContact(ca Vec3, ra float64, cb Vec3, rb float64) (contact, bool) {
	if !CheckCollision(ca, ra, cb, rb) {
		return contact{}, false
	}
	d := ca.Sub(cb)
	dist := d.Len()
	if dist < 1e-9 {
		return contact{Normal: V3(0, 1, 0), Depth: ra + rb}, true
	}
	return contact{Normal: d.Scale(1 / dist), Depth: ra + rb - dist}, true
}

// bodyContact dispatches on the shapes of a and b
func bodyContact(a, b *body) (contact, bool) {
	switch {
	case a.shape == ShapeSphere && b.shape == ShapeSphere:
		return sphereSphereContact(a.pos, a.radius, b.pos, b.radius)
	case a.shape == ShapeSphere:
		return sphereBoxContact(a.pos, a.radius, b.pos, b.half)
	case b.shape == ShapeSphere:
		c, ok := sphereBoxContact(b.pos, b.radius, a.pos, a.half)
		c.Normal = c.Normal.Scale(-1)
		return c, ok
	default:
		return boxBoxContact(a.pos, a.half, b.pos, b.half)
	}
}

func dot(a, b Vec3) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
}
