package main

import "log/slog"

// Key is a logical input key
type Key int

const (
	KeyNone Key = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyJump
)

// ParseKey maps a browser key name to a logical key
func ParseKey(name string) Key {
	switch name {
	case "ArrowUp", "w", "W":
		return KeyUp
	case "ArrowDown", "s", "S":
		return KeyDown
	case "ArrowLeft", "a", "A":
		return KeyLeft
	case "ArrowRight", "d", "D":
		return KeyRight
	case " ", "Space", "Spacebar":
		return KeyJump
	}
	return KeyNone
}

// KeyEvent is one key transition
type KeyEvent struct {
	Key  Key
	Down bool
}

// MovementIntent is the latest snapshot of held direction keys.
// Each component is always -1, 0 or 1.
type MovementIntent struct {
	X int `json:"x" msgpack:"x"`
	Z int `json:"z" msgpack:"z"`
}

// KeySource delivers key events to subscribers until they unsubscribe
type KeySource interface {
	Subscribe(fn func(KeyEvent)) (unsubscribe func())
}

// KeyBus is an in-process KeySource fed by the game loop
type KeyBus struct {
	subs   map[int]func(KeyEvent)
	order  []int
	nextID int
}

func NewKeyBus() *KeyBus {
	return &KeyBus{subs: make(map[int]func(KeyEvent))}
}

func (b *KeyBus) Subscribe(fn func(KeyEvent)) func() {
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.order = append(b.order, id)
	return func() {
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers ev to every subscriber in subscription order
func (b *KeyBus) Publish(ev KeyEvent) {
	for _, id := range append([]int(nil), b.order...) {
		if fn, ok := b.subs[id]; ok {
			fn(ev)
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *KeyBus) Subscribers() int { return len(b.subs) }

// InputController turns key events into a MovementIntent and jump commands
type InputController struct {
	intent       MovementIntent
	player       func() BodyHandle
	jumpStrength float64
	unsubscribe  func()
	jumps        int
}

// NewInputController creates a controller. player returns the current
// player body, or nil when none exists.
func NewInputController(player func() BodyHandle, jumpStrength float64) *InputController {
	return &InputController{player: player, jumpStrength: jumpStrength}
}

// Attach subscribes to src, releasing any previous subscription
func (c *InputController) Attach(src KeySource) {
	c.Detach()
	c.unsubscribe = src.Subscribe(c.HandleKey)
}

// Detach releases the subscription and clears held keys
func (c *InputController) Detach() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.intent = MovementIntent{}
}

// Attached reports whether a subscription is held
func (c *InputController) Attached() bool { return c.unsubscribe != nil }

// Intent returns the current movement intent
func (c *InputController) Intent() MovementIntent { return c.intent }

// Jumps returns how many jump commands have been issued
func (c *InputController) Jumps() int { return c.jumps }

// HandleKey applies one key transition
func (c *InputController) HandleKey(ev KeyEvent) {
	if !ev.Down {
		switch ev.Key {
		case KeyUp, KeyDown:
			c.intent.Z = 0
		case KeyLeft, KeyRight:
			c.intent.X = 0
		}
		return
	}
	switch ev.Key {
	case KeyUp:
		c.intent.Z = -1
	case KeyDown:
		c.intent.Z = 1
	case KeyLeft:
		c.intent.X = -1
	case KeyRight:
		c.intent.X = 1
	case KeyJump:
		c.Jump()
	}
}

// Jump overwrites the player's vertical velocity with the jump strength,
// keeping the current horizontal components.
func (c *InputController) Jump() {
	var p BodyHandle
	if c.player != nil {
		p = c.player()
	}
	if p == nil {
		slog.Warn("jump ignored: no player body")
		return
	}
	v := p.LinearVelocity()
	p.SetLinearVelocity(V3(v.X, c.jumpStrength, v.Z), true)
	c.jumps++
}
