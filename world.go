package main

import (
	"fmt"
	"math"

	"github.com/solarlune/resolv"
)

const (
	worldExtent     = 64   // half-size of the broadphase space in world units
	restingSpeed    = 1.0  // normal speeds below this do not bounce
	frictionDecel   = 4.0  // horizontal damping per unit friction per second
	angularDamping  = 2.0  // airborne spin decay per second
	sleepSpeed      = 0.05 // bodies slower than this may fall asleep
	sleepAfterSteps = 60   // consecutive slow grounded steps before sleeping
	groundNormalY   = 0.7  // contact normals steeper than this count as standing
	tagStatic       = "static"
	tagDynamic      = "dynamic"
	defaultBodyMass = 1.0
)

// KinematicWorld is a small impulse-based rigid-body world. Bodies are
// axis-aligned boxes or spheres; broadphase candidates come from a resolv
// Space over the (X, Z) ground plane, narrowphase is done in 3D.
type KinematicWorld struct {
	space   *resolv.Space
	bodies  []*body
	gravity Vec3
	paused  bool
	nextID  int
	tick    uint64

	before []stepHook
	after  []stepHook
	hookID int
}

type stepHook struct {
	id int
	fn StepFunc
}

type body struct {
	world *KinematicWorld
	id    int
	role  BodyRole
	shape ShapeKind

	pos    Vec3
	half   Vec3
	radius float64

	linvel Vec3
	angvel Vec3

	invMass     float64
	restitution float64
	friction    float64
	fixed       bool

	onGround       bool
	groundFriction float64
	sleeping       bool
	stillSteps     int
	removed        bool

	obj *resolv.Object
}

// NewKinematicWorld creates a world with the given gravity
func NewKinematicWorld(gravity Vec3) *KinematicWorld {
	size := worldExtent * 2
	return &KinematicWorld{
		space:   resolv.NewSpace(size, size, 1, 1),
		gravity: gravity,
	}
}

// CreateBody adds a body to the world
func (w *KinematicWorld) CreateBody(desc BodyDesc) (BodyHandle, error) {
	if !desc.Position.Finite() {
		return nil, fmt.Errorf("%w: non-finite position", ErrInvalidBody)
	}
	b := &body{
		world:       w,
		id:          w.nextID,
		role:        desc.Role,
		shape:       desc.Shape,
		pos:         desc.Position,
		restitution: desc.Restitution,
		friction:    desc.Friction,
		fixed:       desc.Fixed,
	}
	switch desc.Shape {
	case ShapeSphere:
		if desc.Radius <= 0 {
			return nil, fmt.Errorf("%w: sphere radius %v", ErrInvalidBody, desc.Radius)
		}
		b.radius = desc.Radius
		b.half = V3(desc.Radius, desc.Radius, desc.Radius)
	default:
		h := desc.HalfExtents
		if h.X <= 0 || h.Y <= 0 || h.Z <= 0 {
			return nil, fmt.Errorf("%w: box half extents %+v", ErrInvalidBody, h)
		}
		b.half = h
	}
	if !desc.Fixed {
		mass := desc.Mass
		if mass <= 0 {
			mass = defaultBodyMass
		}
		b.invMass = 1 / mass
	}
	w.nextID++

	tag := tagDynamic
	if b.fixed {
		tag = tagStatic
	}
	b.obj = resolv.NewObject(0, 0, b.half.X*2, b.half.Z*2, tag)
	b.obj.Data = b
	b.syncObject()
	w.space.Add(b.obj)
	w.bodies = append(w.bodies, b)
	return b, nil
}

// RemoveBody detaches a body; later calls on its handle only touch local state
func (w *KinematicWorld) RemoveBody(h BodyHandle) {
	b, ok := h.(*body)
	if !ok || b.world != w || b.removed {
		return
	}
	b.removed = true
	w.space.Remove(b.obj)
	for i, other := range w.bodies {
		if other == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			break
		}
	}
}

func (w *KinematicWorld) SetPaused(paused bool) { w.paused = paused }
func (w *KinematicWorld) Paused() bool          { return w.paused }
func (w *KinematicWorld) SetGravity(g Vec3)     { w.gravity = g }

// Ticks returns how many unpaused steps have run
func (w *KinematicWorld) Ticks() uint64 { return w.tick }

func (w *KinematicWorld) OnBeforeStep(fn StepFunc) func() {
	return w.addHook(&w.before, fn)
}

func (w *KinematicWorld) OnAfterStep(fn StepFunc) func() {
	return w.addHook(&w.after, fn)
}

func (w *KinematicWorld) addHook(list *[]stepHook, fn StepFunc) func() {
	w.hookID++
	id := w.hookID
	*list = append(*list, stepHook{id: id, fn: fn})
	return func() {
		for i, h := range *list {
			if h.id == id {
				*list = append((*list)[:i], (*list)[i+1:]...)
				return
			}
		}
	}
}

// Step advances the simulation by dt seconds. It is a no-op while paused.
func (w *KinematicWorld) Step(dt float64) {
	if w.paused || dt <= 0 {
		return
	}
	for _, h := range append([]stepHook(nil), w.before...) {
		h.fn(dt)
	}
	w.integrate(dt)
	w.tick++
	for _, h := range append([]stepHook(nil), w.after...) {
		h.fn(dt)
	}
}

func (w *KinematicWorld) integrate(dt float64) {
	for _, b := range w.bodies {
		if b.fixed || b.sleeping {
			continue
		}
		b.linvel = b.linvel.Add(w.gravity.Scale(dt))
		b.pos = b.pos.Add(b.linvel.Scale(dt))
		b.onGround = false
		b.syncObject()

		if col := b.obj.Check(0, 0); col != nil {
			for _, o := range col.Objects {
				other, ok := o.Data.(*body)
				if !ok || other == b || other.removed {
					continue
				}
				// dynamic pairs are resolved once, by the body iterated first
				if !other.fixed && !other.sleeping && other.id < b.id {
					continue
				}
				w.resolve(b, other)
			}
		}

		if b.onGround {
			k := math.Max(0, 1-b.groundFriction*frictionDecel*dt)
			b.linvel.X *= k
			b.linvel.Z *= k
		}
		if b.shape == ShapeSphere {
			if b.onGround {
				b.angvel = V3(b.linvel.Z/b.radius, 0, -b.linvel.X/b.radius)
			} else {
				b.angvel = b.angvel.Scale(math.Max(0, 1-angularDamping*dt))
			}
		}
		w.updateSleep(b)
	}
}

func (w *KinematicWorld) resolve(a, b *body) {
	c, ok := bodyContact(a, b)
	if !ok {
		return
	}
	e := (a.restitution + b.restitution) / 2
	n := c.Normal

	if b.fixed {
		a.pos = a.pos.Add(n.Scale(c.Depth))
		if vn := dot(a.linvel, n); vn < 0 {
			if -vn < restingSpeed {
				e = 0
			}
			a.linvel = a.linvel.Sub(n.Scale((1 + e) * vn))
		}
	} else {
		total := a.invMass + b.invMass
		a.pos = a.pos.Add(n.Scale(c.Depth * a.invMass / total))
		b.pos = b.pos.Sub(n.Scale(c.Depth * b.invMass / total))
		vrel := dot(a.linvel.Sub(b.linvel), n)
		if vrel < 0 {
			if -vrel < restingSpeed {
				e = 0
			}
			j := -(1 + e) * vrel / total
			a.linvel = a.linvel.Add(n.Scale(j * a.invMass))
			b.linvel = b.linvel.Sub(n.Scale(j * b.invMass))
		}
		b.wake()
		b.syncObject()
		if n.Y < -groundNormalY {
			b.onGround = true
			b.groundFriction = (a.friction + b.friction) / 2
		}
	}
	if n.Y > groundNormalY {
		a.onGround = true
		a.groundFriction = (a.friction + b.friction) / 2
	}
	a.syncObject()
}

func (w *KinematicWorld) updateSleep(b *body) {
	if b.onGround && b.linvel.Len() < sleepSpeed {
		b.stillSteps++
		if b.stillSteps >= sleepAfterSteps {
			b.sleeping = true
			b.linvel = Vec3{}
			b.angvel = Vec3{}
		}
		return
	}
	b.stillSteps = 0
}

func (b *body) syncObject() {
	b.obj.X = b.pos.X - b.half.X + worldExtent
	b.obj.Y = b.pos.Z - b.half.Z + worldExtent
	if b.obj.Space != nil && !b.removed {
		b.obj.Update()
	}
}

func (b *body) wake() {
	b.sleeping = false
	b.stillSteps = 0
}

func (b *body) Role() BodyRole        { return b.role }
func (b *body) Translation() Vec3     { return b.pos }
func (b *body) LinearVelocity() Vec3  { return b.linvel }
func (b *body) AngularVelocity() Vec3 { return b.angvel }
func (b *body) Sleeping() bool        { return b.sleeping }

func (b *body) SetTranslation(v Vec3, wake bool) {
	b.pos = v
	b.syncObject()
	if wake {
		b.wake()
	}
}

func (b *body) SetLinearVelocity(v Vec3, wake bool) {
	if b.fixed {
		return
	}
	b.linvel = v
	if wake {
		b.wake()
	}
}

func (b *body) SetAngularVelocity(v Vec3, wake bool) {
	if b.fixed {
		return
	}
	b.angvel = v
	if wake {
		b.wake()
	}
}
