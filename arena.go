package main

import (
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
)

// ArenaConfig holds the arena layout and tuning
type ArenaConfig struct {
	PlayerSpeed         float64
	JumpStrength        float64
	GroundSize          float64
	BoundarySize        float64
	GoalSize            float64
	GoalHeightThreshold float64
	OutOfBoundsY        float64 // ball below this is reset; 0 disables the rule
	PlayerStart         Vec3
	BallStart           Vec3
	Obstacles           []Vec3
}

// DefaultArenaConfig returns the standard 20x20 arena
func DefaultArenaConfig() ArenaConfig {
	return ArenaConfig{
		PlayerSpeed:         PlayerSpeed,
		JumpStrength:        JumpStrength,
		GroundSize:          GroundSize,
		BoundarySize:        BoundarySize,
		GoalSize:            GoalSize,
		GoalHeightThreshold: GoalHeightThreshold,
		OutOfBoundsY:        OutOfBoundsY,
		PlayerStart:         V3(0, 1, 0),
		BallStart:           V3(2, 1, 0),
	}
}

// GoalRegion is the scoring square on the ground plane
type GoalRegion struct {
	Center     Vec3
	HalfExtent float64
	hasScored  bool
}

// Contains reports whether p lies strictly inside the (X, Z) footprint
func (g *GoalRegion) Contains(p Vec3) bool {
	return p.X > g.Center.X-g.HalfExtent && p.X < g.Center.X+g.HalfExtent &&
		p.Z > g.Center.Z-g.HalfExtent && p.Z < g.Center.Z+g.HalfExtent
}

// ScoreSink receives score events from the arena
type ScoreSink interface {
	OnGoal()
}

// Arena owns the bodies of one game and runs the goal rules every step
type Arena struct {
	cfg   ArenaConfig
	world PhysicsWorld
	rng   *mrand.Rand

	player     BodyHandle
	ball       BodyHandle
	statics    []BodyHandle
	goal       *GoalRegion
	intent     func() MovementIntent
	sink       ScoreSink
	unregister []func()

	goals       int
	relocations int
	ballResets  int
}

// NewArena builds ground, walls, obstacles, player and ball in world and
// registers the per-step rules. intent supplies the movement intent each step.
func NewArena(cfg ArenaConfig, world PhysicsWorld, rng *mrand.Rand, intent func() MovementIntent, sink ScoreSink) (*Arena, error) {
	a := &Arena{
		cfg:    cfg,
		world:  world,
		rng:    rng,
		intent: intent,
		sink:   sink,
	}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	a.goal = a.roundGoal()
	a.unregister = append(a.unregister,
		world.OnBeforeStep(a.applyIntent),
		world.OnAfterStep(a.afterStep),
	)
	return a, nil
}

func (a *Arena) build() error {
	b := a.cfg.BoundarySize
	descs := []BodyDesc{
		{Role: RoleGround, Position: V3(0, -0.5, 0), HalfExtents: V3(b, 0.5, b), Friction: StaticFriction, Fixed: true},
		{Role: RoleBoundary, Position: V3(-b, 1, 0), HalfExtents: V3(0.5, 5, 25), Friction: StaticFriction, Fixed: true},
		{Role: RoleBoundary, Position: V3(b, 1, 0), HalfExtents: V3(0.5, 5, 25), Friction: StaticFriction, Fixed: true},
		{Role: RoleBoundary, Position: V3(0, 1, -b), HalfExtents: V3(25, 5, 0.5), Friction: StaticFriction, Fixed: true},
		{Role: RoleBoundary, Position: V3(0, 1, b), HalfExtents: V3(25, 5, 0.5), Friction: StaticFriction, Fixed: true},
	}
	for _, p := range a.cfg.Obstacles {
		descs = append(descs, BodyDesc{Role: RoleObstacle, Position: p, HalfExtents: V3(0.5, 0.5, 0.5), Friction: StaticFriction, Fixed: true})
	}
	for _, d := range descs {
		h, err := a.world.CreateBody(d)
		if err != nil {
			return fmt.Errorf("create %s: %w", d.Role, err)
		}
		a.statics = append(a.statics, h)
	}

	player, err := a.world.CreateBody(BodyDesc{
		Role:        RolePlayer,
		Shape:       ShapeBox,
		Position:    a.cfg.PlayerStart,
		HalfExtents: V3(PlayerHalfSize, PlayerHalfSize, PlayerHalfSize),
		Mass:        PlayerMass,
		Restitution: PlayerRestitution,
		Friction:    PlayerFriction,
	})
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}
	a.player = player

	ball, err := a.world.CreateBody(BodyDesc{
		Role:        RoleBall,
		Shape:       ShapeSphere,
		Position:    a.cfg.BallStart,
		Radius:      BallRadius,
		Mass:        BallMass,
		Restitution: BallRestitution,
		Friction:    BallFriction,
	})
	if err != nil {
		return fmt.Errorf("create ball: %w", err)
	}
	a.ball = ball
	return nil
}

// Player returns the player body, or nil once the arena is closed
func (a *Arena) Player() BodyHandle { return a.player }

// Ball returns the ball body, or nil once the arena is closed
func (a *Arena) Ball() BodyHandle { return a.ball }

// Statics returns ground, walls and obstacles
func (a *Arena) Statics() []BodyHandle { return a.statics }

// Goal returns the live goal region
func (a *Arena) Goal() GoalRegion { return *a.goal }

// Goals returns the number of score events emitted
func (a *Arena) Goals() int { return a.goals }

// Relocations returns how many times the goal moved after a score
func (a *Arena) Relocations() int { return a.relocations }

// BallResets returns how many times the ball was reset
func (a *Arena) BallResets() int { return a.ballResets }

func (a *Arena) applyIntent(float64) {
	if a.player == nil {
		return
	}
	in := MovementIntent{}
	if a.intent != nil {
		in = a.intent()
	}
	v := a.player.LinearVelocity()
	a.player.SetLinearVelocity(V3(float64(in.X)*a.cfg.PlayerSpeed, v.Y, float64(in.Z)*a.cfg.PlayerSpeed), true)
}

func (a *Arena) afterStep(float64) {
	a.DetectGoal()
	if a.ball != nil && a.cfg.OutOfBoundsY != 0 && a.ball.Translation().Y < a.cfg.OutOfBoundsY {
		slog.Info("ball out of bounds", "y", a.ball.Translation().Y)
		a.ResetBall()
	}
}

// DetectGoal applies the latched scoring rule to the current ball position.
// It fires at most once per continuous dwell inside the footprint; the latch
// only clears when the ball's (X, Z) leaves the footprint.
func (a *Arena) DetectGoal() bool {
	if a.ball == nil {
		return false
	}
	pos := a.ball.Translation()
	if !a.goal.Contains(pos) {
		a.goal.hasScored = false
		return false
	}
	if pos.Y >= a.cfg.GoalHeightThreshold || a.goal.hasScored {
		return false
	}
	a.goal.hasScored = true
	a.goals++
	if a.sink != nil {
		a.sink.OnGoal()
	}
	a.relocateGoal()
	return true
}

// relocateGoal draws a new centre. The latch carries over, so a ball that
// is still inside the new footprint does not score again until it leaves.
func (a *Arena) relocateGoal() {
	a.goal = a.newGoal()
	a.goal.hasScored = true
	a.relocations++
	slog.Debug("goal relocated", "x", a.goal.Center.X, "z", a.goal.Center.Z)
}

// roundGoal draws the first goal of a round. A goal drawn over the resting
// ball starts latched, so the ball must be pushed out and back in to score.
func (a *Arena) roundGoal() *GoalRegion {
	g := a.newGoal()
	g.hasScored = a.ball != nil && g.Contains(a.ball.Translation())
	return g
}

func (a *Arena) newGoal() *GoalRegion {
	return &GoalRegion{
		Center:     V3(uniform(a.rng, a.cfg.GroundSize), GoalPlaneY, uniform(a.rng, a.cfg.GroundSize)),
		HalfExtent: a.cfg.GoalSize / 2,
	}
}

// ResetBall moves the ball to a random point inside the boundaries and
// stops it. Position, linear and angular velocity are set together within
// one call, so no step can observe a partial reset.
func (a *Arena) ResetBall() {
	if a.ball == nil {
		slog.Error("ball reset requested but no ball body exists")
		return
	}
	pos := V3(uniform(a.rng, a.cfg.BoundarySize), BallResetHeight, uniform(a.rng, a.cfg.BoundarySize))
	a.ball.SetTranslation(pos, true)
	a.ball.SetLinearVelocity(Vec3{}, true)
	a.ball.SetAngularVelocity(Vec3{}, true)
	a.ballResets++
	slog.Debug("ball reset", "x", pos.X, "z", pos.Z)
}

// Reset puts player and ball back at their start positions and draws a new goal
func (a *Arena) Reset() {
	for _, h := range []BodyHandle{a.player, a.ball} {
		if h == nil {
			continue
		}
		start := a.cfg.PlayerStart
		if h.Role() == RoleBall {
			start = a.cfg.BallStart
		}
		h.SetTranslation(start, true)
		h.SetLinearVelocity(Vec3{}, true)
		h.SetAngularVelocity(Vec3{}, true)
	}
	a.goal = a.roundGoal()
}

// Close unregisters the step rules and removes every body from the world
func (a *Arena) Close() {
	for _, fn := range a.unregister {
		fn()
	}
	a.unregister = nil
	for _, h := range a.statics {
		a.world.RemoveBody(h)
	}
	a.statics = nil
	if a.player != nil {
		a.world.RemoveBody(a.player)
		a.player = nil
	}
	if a.ball != nil {
		a.world.RemoveBody(a.ball)
		a.ball = nil
	}
}
