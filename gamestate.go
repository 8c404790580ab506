package main

import (
	"log/slog"
	"time"
)

// GameState is the lifecycle of one game session
type GameState int

const (
	StateStart   GameState = 0
	StatePlaying GameState = 1
	StatePaused  GameState = 2
	StateEnd     GameState = 3
)

func (s GameState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnd:
		return "end"
	}
	return "unknown"
}

// ParseGameState is the inverse of GameState.String
func ParseGameState(s string) (GameState, bool) {
	for _, st := range []GameState{StateStart, StatePlaying, StatePaused, StateEnd} {
		if st.String() == s {
			return st, true
		}
	}
	return StateStart, false
}

// SessionStats holds the per-round counters shown to the player
type SessionStats struct {
	Score    int `json:"score" msgpack:"score"`
	TimeLeft int `json:"timeLeft" msgpack:"timeLeft"`
	Health   int `json:"health" msgpack:"health"`
}

// RoundResetter puts the arena back into its start-of-round layout
type RoundResetter interface {
	Reset()
}

// Pausable is the part of PhysicsWorld the controller drives
type Pausable interface {
	SetPaused(paused bool)
}

// SessionController is the finite-state machine that gates the round.
// Invalid transitions return false and leave everything untouched.
type SessionController struct {
	state        GameState
	stats        SessionStats
	roundSeconds int

	world  Pausable
	sched  *Scheduler
	banner *Banner
	arena  RoundResetter

	stopCountdown func()
	roundStart    time.Duration
	hooks         []func(from, to GameState)
}

// NewSessionController creates a controller in StateStart
func NewSessionController(roundSeconds int, world Pausable, sched *Scheduler, banner *Banner, arena RoundResetter) *SessionController {
	if roundSeconds <= 0 {
		roundSeconds = RoundSeconds
	}
	return &SessionController{
		state:        StateStart,
		stats:        SessionStats{TimeLeft: roundSeconds, Health: MaxHealth},
		roundSeconds: roundSeconds,
		world:        world,
		sched:        sched,
		banner:       banner,
		arena:        arena,
	}
}

// State returns the current state
func (c *SessionController) State() GameState { return c.state }

// Stats returns a copy of the round counters
func (c *SessionController) Stats() SessionStats { return c.stats }

// RoundElapsed returns simulation time since the current round began
func (c *SessionController) RoundElapsed() time.Duration {
	return c.sched.Now() - c.roundStart
}

// OnTransition registers fn to run after every successful transition
func (c *SessionController) OnTransition(fn func(from, to GameState)) {
	c.hooks = append(c.hooks, fn)
}

// Start begins a round from the start screen
func (c *SessionController) Start() bool {
	if c.state != StateStart {
		return false
	}
	c.resetRound()
	c.enterPlaying()
	c.transition(StatePlaying)
	return true
}

// Pause freezes physics stepping and the countdown
func (c *SessionController) Pause() bool {
	if c.state != StatePlaying {
		return false
	}
	c.leavePlaying()
	c.world.SetPaused(true)
	c.transition(StatePaused)
	return true
}

// Resume continues a paused round
func (c *SessionController) Resume() bool {
	if c.state != StatePaused {
		return false
	}
	c.world.SetPaused(false)
	c.enterPlaying()
	c.transition(StatePlaying)
	return true
}

// Quit abandons a paused round and returns to the start screen
func (c *SessionController) Quit() bool {
	if c.state != StatePaused {
		return false
	}
	c.world.SetPaused(false)
	c.resetRound()
	c.transition(StateStart)
	return true
}

// DeclareGameOver ends a running round
func (c *SessionController) DeclareGameOver() bool {
	if c.state != StatePlaying {
		return false
	}
	c.leavePlaying()
	c.transition(StateEnd)
	return true
}

// Restart begins a fresh round from the end screen
func (c *SessionController) Restart() bool {
	if c.state != StateEnd {
		return false
	}
	c.resetRound()
	c.enterPlaying()
	c.transition(StatePlaying)
	return true
}

// OnGoal records one score event. A banner is queued from the second goal on.
func (c *SessionController) OnGoal() {
	if c.state != StatePlaying {
		return
	}
	c.stats.Score++
	slog.Debug("score updated", "score", c.stats.Score)
	if c.stats.Score > 1 && c.banner != nil {
		c.banner.Push()
	}
}

// SetHealth stores a clamped health value. Nothing in the round decrements it yet.
func (c *SessionController) SetHealth(h int) {
	c.stats.Health = ClampInt(h, 0, MaxHealth)
}

func (c *SessionController) resetRound() {
	c.stats = SessionStats{TimeLeft: c.roundSeconds, Health: MaxHealth}
	c.roundStart = c.sched.Now()
	if c.banner != nil {
		c.banner.Clear()
	}
	if c.arena != nil {
		c.arena.Reset()
	}
}

func (c *SessionController) enterPlaying() {
	if c.stopCountdown == nil {
		c.stopCountdown = c.sched.Every(CountdownStep, c.countdown)
	}
}

func (c *SessionController) leavePlaying() {
	if c.stopCountdown != nil {
		c.stopCountdown()
		c.stopCountdown = nil
	}
}

func (c *SessionController) countdown() {
	if c.stats.TimeLeft > 0 {
		c.stats.TimeLeft--
	}
	if c.stats.TimeLeft == 0 {
		slog.Info("time's up", "score", c.stats.Score)
		c.DeclareGameOver()
	}
}

func (c *SessionController) transition(to GameState) {
	from := c.state
	c.state = to
	for _, fn := range c.hooks {
		fn(from, to)
	}
}

// Close cancels the countdown; the controller must not be used afterwards
func (c *SessionController) Close() {
	c.leavePlaying()
}
