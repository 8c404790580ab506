package main

import "errors"

// BodyRole tags a rigid body for collision filtering and snapshots
type BodyRole int

const (
	RoleGround BodyRole = iota
	RoleBoundary
	RoleObstacle
	RolePlayer
	RoleBall
)

func (r BodyRole) String() string {
	switch r {
	case RoleGround:
		return "ground"
	case RoleBoundary:
		return "boundary"
	case RoleObstacle:
		return "obstacle"
	case RolePlayer:
		return "player"
	case RoleBall:
		return "ball"
	}
	return "unknown"
}

// ShapeKind selects the collision shape of a body
type ShapeKind int

const (
	ShapeBox ShapeKind = iota
	ShapeSphere
)

// BodyDesc describes a body to create. HalfExtents is used for boxes,
// Radius for spheres. Fixed bodies have infinite mass and never move.
type BodyDesc struct {
	Role        BodyRole
	Shape       ShapeKind
	Position    Vec3
	HalfExtents Vec3
	Radius      float64
	Mass        float64
	Restitution float64
	Friction    float64
	Fixed       bool
}

// BodyHandle is an opaque reference to one rigid body owned by a PhysicsWorld
type BodyHandle interface {
	Role() BodyRole
	Translation() Vec3
	LinearVelocity() Vec3
	AngularVelocity() Vec3
	SetTranslation(v Vec3, wake bool)
	SetLinearVelocity(v Vec3, wake bool)
	SetAngularVelocity(v Vec3, wake bool)
}

// StepFunc is a per-tick callback receiving the step length in seconds
type StepFunc func(dt float64)

// PhysicsWorld is the rigid-body capability the arena drives.
// Before-step callbacks run ahead of integration and after-step callbacks
// observe post-step positions. Neither runs while the world is paused.
type PhysicsWorld interface {
	CreateBody(desc BodyDesc) (BodyHandle, error)
	RemoveBody(h BodyHandle)
	Step(dt float64)
	SetPaused(paused bool)
	Paused() bool
	SetGravity(g Vec3)
	OnBeforeStep(fn StepFunc) (unregister func())
	OnAfterStep(fn StepFunc) (unregister func())
}

var (
	ErrInvalidBody   = errors.New("invalid body description")
	ErrForeignHandle = errors.New("body handle belongs to another world")
)
