package main

// BodySnapshot is the render view of one rigid body
type BodySnapshot struct {
	Role     string `json:"role" msgpack:"role"`
	Position Vec3   `json:"p" msgpack:"p"`
	Velocity Vec3   `json:"v" msgpack:"v"`
	Angular  Vec3   `json:"w" msgpack:"w"`
	Half     *Vec3  `json:"h,omitempty" msgpack:"h,omitempty"` // set for statics only
}

// GoalSnapshot is the render view of the goal region
type GoalSnapshot struct {
	Center Vec3    `json:"c" msgpack:"c"`
	Size   float64 `json:"s" msgpack:"s"`
}

// Snapshot is the read-only frame the presentation layer renders
type Snapshot struct {
	Tick    uint64         `json:"tick" msgpack:"tick"`
	State   string         `json:"state" msgpack:"state"`
	Stats   SessionStats   `json:"stats" msgpack:"stats"`
	Player  *BodySnapshot  `json:"player,omitempty" msgpack:"player,omitempty"`
	Ball    *BodySnapshot  `json:"ball,omitempty" msgpack:"ball,omitempty"`
	Statics []BodySnapshot `json:"statics,omitempty" msgpack:"statics,omitempty"`
	Goal    GoalSnapshot   `json:"goal" msgpack:"goal"`
	Banner  bool           `json:"banner" msgpack:"banner"`
	Intent  MovementIntent `json:"intent" msgpack:"intent"`
}

func snapshotBody(h BodyHandle, withHalf *Vec3) *BodySnapshot {
	if h == nil {
		return nil
	}
	return &BodySnapshot{
		Role:     h.Role().String(),
		Position: h.Translation(),
		Velocity: h.LinearVelocity(),
		Angular:  h.AngularVelocity(),
		Half:     withHalf,
	}
}

// halfExtents reports the collision half extents for bodies of this world
func halfExtents(h BodyHandle) *Vec3 {
	if b, ok := h.(*body); ok {
		half := b.half
		return &half
	}
	return nil
}
