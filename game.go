package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	inboxSize         = 256
	maxViewersPerGame = 4
)

// Broadcaster is a connected viewer of one game
type Broadcaster interface {
	SendJSON(msg interface{})
	SendRaw(data []byte)
	SendBinary(data []byte)
	WantsBinary() bool
}

// GameConfig configures a new Game
type GameConfig struct {
	Arena        ArenaConfig
	RoundSeconds int
	Rand         *mrand.Rand
}

// DefaultGameConfig returns the standard one minute round
func DefaultGameConfig() GameConfig {
	return GameConfig{Arena: DefaultArenaConfig(), RoundSeconds: RoundSeconds}
}

// Control actions accepted by a game
const (
	ActionStart     = "start"
	ActionPause     = "pause"
	ActionResume    = "resume"
	ActionQuit      = "quit"
	ActionRestart   = "restart"
	ActionResetBall = "reset_ball"
)

// KeyCmd carries one key transition into the game loop
type KeyCmd struct {
	Event KeyEvent
}

// ControlCmd asks the game loop to perform an action. Reply, when set,
// receives whether the action was applied.
type ControlCmd struct {
	Action string
	Reply  chan bool
}

// Game owns one simulation. Everything below the inbox is touched only by
// the goroutine running Run (or by a test calling Tick/Handle directly).
type Game struct {
	inbox chan interface{}
	stop  chan struct{}
	once  sync.Once

	world  *KinematicWorld
	sched  *Scheduler
	banner *Banner
	keys   *KeyBus
	input  *InputController
	arena  *Arena
	ctrl   *SessionController
	tick   uint64

	hooks []func(from, to GameState, stats SessionStats, elapsed time.Duration)

	mu      sync.RWMutex
	clients map[string]Broadcaster
	last    Snapshot
}

// NewGame builds the world, arena and controllers for one session
func NewGame(cfg GameConfig) (*Game, error) {
	rng := cfg.Rand
	if rng == nil {
		rng = NewRand()
	}
	g := &Game{
		inbox:   make(chan interface{}, inboxSize),
		stop:    make(chan struct{}),
		world:   NewKinematicWorld(V3(0, Gravity, 0)),
		sched:   NewScheduler(),
		keys:    NewKeyBus(),
		clients: make(map[string]Broadcaster),
	}
	g.banner = NewBanner(g.sched, BannerDuration)
	g.input = NewInputController(func() BodyHandle {
		if g.arena == nil {
			return nil
		}
		return g.arena.Player()
	}, cfg.Arena.JumpStrength)

	g.ctrl = NewSessionController(cfg.RoundSeconds, g.world, g.sched, g.banner, nil)
	arena, err := NewArena(cfg.Arena, g.world, rng, g.input.Intent, g.ctrl)
	if err != nil {
		return nil, fmt.Errorf("new arena: %w", err)
	}
	g.arena = arena
	g.ctrl.arena = arena
	g.ctrl.OnTransition(g.onTransition)
	g.last = g.buildSnapshot()
	return g, nil
}

// OnTransition registers an observer of state changes. Observers run on the
// game goroutine and must not block.
func (g *Game) OnTransition(fn func(from, to GameState, stats SessionStats, elapsed time.Duration)) {
	g.hooks = append(g.hooks, fn)
}

func (g *Game) onTransition(from, to GameState) {
	if to == StatePlaying {
		g.input.Attach(g.keys)
	} else {
		g.input.Detach()
	}
	slog.Info("game state changed", "from", from, "to", to, "score", g.ctrl.Stats().Score)
	for _, fn := range g.hooks {
		fn(from, to, g.ctrl.Stats(), g.ctrl.RoundElapsed())
	}
	g.broadcastState()
}

// Send enqueues a command without blocking. It reports false when the
// inbox is full or the game has stopped.
func (g *Game) Send(cmd interface{}) bool {
	select {
	case <-g.stop:
		return false
	default:
	}
	select {
	case g.inbox <- cmd:
		return true
	default:
		return false
	}
}

// Run drives the game at TickRate until ctx is done or Stop is called
func (g *Game) Run(ctx context.Context) {
	ticker := time.NewTicker(TickDuration)
	defer ticker.Stop()
	defer g.teardown()

	dt := TickDuration.Seconds()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stop:
			return
		case cmd := <-g.inbox:
			g.Handle(cmd)
		case <-ticker.C:
			g.Tick(dt)
		}
	}
}

// Stop terminates Run
func (g *Game) Stop() {
	g.once.Do(func() { close(g.stop) })
}

func (g *Game) teardown() {
	g.ctrl.Close()
	g.banner.Clear()
	g.input.Detach()
	g.sched.CancelAll()
	g.arena.Close()
}

// Handle applies one command on the game goroutine
func (g *Game) Handle(cmd interface{}) {
	switch c := cmd.(type) {
	case KeyCmd:
		g.keys.Publish(c.Event)
	case ControlCmd:
		ok := g.control(c.Action)
		if c.Reply != nil {
			select {
			case c.Reply <- ok:
			default:
			}
		}
	default:
		slog.Warn("unknown game command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (g *Game) control(action string) bool {
	switch action {
	case ActionStart:
		return g.ctrl.Start()
	case ActionPause:
		return g.ctrl.Pause()
	case ActionResume:
		return g.ctrl.Resume()
	case ActionQuit:
		return g.ctrl.Quit()
	case ActionRestart:
		return g.ctrl.Restart()
	case ActionResetBall:
		g.arena.ResetBall()
		return true
	}
	return false
}

// Tick advances timers, then physics while playing, then broadcasts
func (g *Game) Tick(dt float64) {
	g.sched.Advance(time.Duration(dt * float64(time.Second)))
	if g.ctrl.State() == StatePlaying {
		g.world.Step(dt)
	}
	g.tick++
	if g.tick%BroadcastEvery == 0 {
		g.broadcastState()
	}
}

// State returns the controller state; game goroutine only
func (g *Game) State() GameState { return g.ctrl.State() }

// Stats returns the round counters; game goroutine only
func (g *Game) Stats() SessionStats { return g.ctrl.Stats() }

// Snapshot returns the most recently published frame; safe from any goroutine
func (g *Game) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.last
}

// SetClient associates a viewer with a participant id
func (g *Game) SetClient(id string, b Broadcaster) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.clients[id]; !ok && len(g.clients) >= maxViewersPerGame {
		return ErrSessionFull
	}
	g.clients[id] = b
	return nil
}

// RemoveClient drops a viewer
func (g *Game) RemoveClient(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.clients, id)
}

// ClientCount returns the number of viewers
func (g *Game) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Game) buildSnapshot() Snapshot {
	goal := g.arena.Goal()
	s := Snapshot{
		Tick:   g.tick,
		State:  g.ctrl.State().String(),
		Stats:  g.ctrl.Stats(),
		Player: snapshotBody(g.arena.Player(), nil),
		Ball:   snapshotBody(g.arena.Ball(), nil),
		Goal:   GoalSnapshot{Center: goal.Center, Size: goal.HalfExtent * 2},
		Banner: g.banner.Visible(),
		Intent: g.input.Intent(),
	}
	for _, h := range g.arena.Statics() {
		s.Statics = append(s.Statics, *snapshotBody(h, halfExtents(h)))
	}
	return s
}

// broadcastState publishes a snapshot to every viewer, encoding it at most
// once per format
func (g *Game) broadcastState() {
	snap := g.buildSnapshot()

	g.mu.Lock()
	g.last = snap
	clients := make([]Broadcaster, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	var text, bin []byte
	for _, c := range clients {
		if c.WantsBinary() {
			if bin == nil {
				b, err := msgpack.Marshal(&snap)
				if err != nil {
					slog.Error("encode snapshot", "err", err)
					return
				}
				bin = b
			}
			c.SendBinary(bin)
			continue
		}
		if text == nil {
			b, err := json.Marshal(Envelope{T: MsgState, Data: snap})
			if err != nil {
				slog.Error("encode snapshot", "err", err)
				return
			}
			text = b
		}
		c.SendRaw(text)
	}
}
