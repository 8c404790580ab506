package main

import "time"

const (
	TickRate       = 60 // physics ticks per second
	BroadcastRate  = 30 // snapshot broadcasts per second
	TickDuration   = time.Second / TickRate
	BroadcastEvery = TickRate / BroadcastRate
)

const (
	PlayerSpeed         = 18.0 // horizontal speed while a direction is held
	JumpStrength        = 5.0  // vertical velocity set by a jump
	PlayerHalfSize      = 0.5
	PlayerRestitution   = 0.2
	PlayerFriction      = 1.0
	PlayerMass          = 1.0
	BallRadius          = 0.5
	BallMass            = 5.0
	BallRestitution     = 1.3
	BallFriction        = 0.1
	GroundSize          = 10.0 // goal centres are drawn from [-GroundSize, GroundSize]
	BoundarySize        = 10.0 // ball resets are drawn from [-BoundarySize, BoundarySize]
	GoalSize            = 2.0
	GoalHeightThreshold = 2.0 // ball must be below this to score
	GoalPlaneY          = 0.1
	BallResetHeight     = 1.0
	OutOfBoundsY        = -5.0
	StaticFriction      = 0.5
	Gravity             = -9.81
)

const (
	RoundSeconds   = 60
	MaxHealth      = 100
	BannerDuration = 2 * time.Second
	CountdownStep  = time.Second
)
