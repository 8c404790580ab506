package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Join a room as a video peer and follow its game state",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		sid, _ := cmd.Flags().GetString("sid")
		roleStr, _ := cmd.Flags().GetString("role")
		ticket, _ := cmd.Flags().GetString("ticket")
		passcode, _ := cmd.Flags().GetString("passcode")
		withMedia, _ := cmd.Flags().GetBool("media")
		start, _ := cmd.Flags().GetBool("start")

		if sid == "" && ticket == "" {
			return errors.New("either --sid or --ticket is required")
		}
		role, ok := ParsePeerRole(roleStr)
		if !ok {
			return fmt.Errorf("unknown role %q", roleStr)
		}
		var src MediaSource = NoMediaSource{}
		if withMedia {
			src = SampleMediaSource{}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runPeer(ctx, peerOptions{
			URL:        server,
			Join:       JoinMsg{SID: sid, Role: role.String(), Ticket: ticket, Passcode: passcode},
			Role:       role,
			Media:      src,
			Start:      start,
			ICEServers: cfg.ICEServers,
		})
	},
}

func init() {
	peerCmd.Flags().String("server", "ws://localhost:8080/ws", "server WebSocket URL")
	peerCmd.Flags().String("sid", "", "room id")
	peerCmd.Flags().String("role", "joiner", "host or joiner")
	peerCmd.Flags().String("ticket", "", "join ticket (overrides --sid and --role)")
	peerCmd.Flags().String("passcode", "", "room passcode")
	peerCmd.Flags().Bool("media", false, "publish local sample tracks")
	peerCmd.Flags().Bool("start", false, "start the round once joined")
	rootCmd.AddCommand(peerCmd)
}

type peerOptions struct {
	URL        string
	Join       JoinMsg
	Role       PeerRole
	Media      MediaSource
	Start      bool
	ICEServers []string
}

// peerClient follows one room over the server connection and drives a
// PeerLink from the state and signal messages it receives. Link work can
// block on ICE gathering, so handle only queues it; follow applies it in
// arrival order off the read loop.
type peerClient struct {
	link  *PeerLink
	out   chan []byte
	work  chan func()
	start bool
	role  PeerRole

	// read loop only
	lastState GameState
	seenState bool
}

func newPeerClient(link *PeerLink, role PeerRole, start bool) *peerClient {
	return &peerClient{
		link:  link,
		out:   make(chan []byte, sendBufSize),
		work:  make(chan func(), sendBufSize),
		start: start,
		role:  role,
	}
}

// enqueue hands fn to the link worker, waiting only while the queue is full
func (p *peerClient) enqueue(ctx context.Context, fn func()) {
	select {
	case p.work <- fn:
	case <-ctx.Done():
	}
}

// follow runs queued link work until ctx is done
func (p *peerClient) follow(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-p.work:
			fn()
		}
	}
}

func (p *peerClient) send(t string, d interface{}) {
	data, err := json.Marshal(Envelope{T: t, Data: d})
	if err != nil {
		slog.Error("marshal", "type", t, "err", err)
		return
	}
	select {
	case p.out <- data:
	default:
		slog.Warn("peer outbox full, dropping", "type", t)
	}
}

// signal is the PeerLink's outbound SignalFunc
func (p *peerClient) signal(payload []byte) {
	p.send(MsgSignal, SignalMsg{Payload: payload})
}

// handle dispatches one server message
func (p *peerClient) handle(ctx context.Context, env InEnvelope) error {
	switch env.T {
	case MsgJoined:
		var msg JoinedMsg
		if err := json.Unmarshal(env.D, &msg); err != nil {
			return fmt.Errorf("decode joined: %w", err)
		}
		slog.Info("joined room", "sid", msg.SID, "role", msg.Role)
		if p.start {
			p.send(MsgCmd, CmdMsg{Action: ActionStart})
		}
	case MsgState:
		var snap struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(env.D, &snap); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		st, ok := ParseGameState(snap.State)
		if !ok {
			return fmt.Errorf("unknown game state %q", snap.State)
		}
		// snapshots repeat the state every frame; only changes reach the link
		if p.seenState && st == p.lastState {
			return nil
		}
		p.lastState, p.seenState = st, true
		p.enqueue(ctx, func() { p.link.SetGameState(st) })
	case MsgSignal:
		var msg SignalMsg
		if err := json.Unmarshal(env.D, &msg); err != nil {
			return fmt.Errorf("decode signal: %w", err)
		}
		p.enqueue(ctx, func() {
			if err := p.link.ReceiveSignal(msg.Payload); err != nil {
				slog.Warn("signal not applied", "from", msg.From, "err", err)
			}
		})
	case MsgPeerJoined, MsgPeerLeft:
		var msg PeerMsg
		if err := json.Unmarshal(env.D, &msg); err != nil {
			return fmt.Errorf("decode %s: %w", env.T, err)
		}
		slog.Info("room membership changed", "event", env.T, "role", msg.Role)
	case MsgError:
		var msg ErrorMsg
		if err := json.Unmarshal(env.D, &msg); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		slog.Warn("server error", "msg", msg.Msg)
	}
	return nil
}

func runPeer(ctx context.Context, opts peerOptions) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()

	var pc *peerClient
	link := NewPeerLink(ctx, opts.Role, NewPionFactory(opts.ICEServers), func(payload []byte) {
		pc.signal(payload)
	})
	defer link.Close()
	link.OnRemoteStream(func(m *MediaHandle) {
		slog.Info("remote stream", "id", m.ID, "kinds", m.Kinds())
	})
	pc = newPeerClient(link, opts.Role, opts.Start)
	pc.send(MsgJoin, opts.Join)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case res := <-AcquireAsync(ctx, opts.Media):
			if res.Err != nil {
				slog.Warn("local media unavailable, continuing without it", "err", res.Err)
				return nil
			}
			pc.enqueue(ctx, func() { link.SetLocalStream(res.Handle) })
		case <-ctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return nil
			case data := <-pc.out:
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return fmt.Errorf("write: %w", err)
				}
			}
		}
	})
	g.Go(func() error { return pc.follow(ctx) })
	g.Go(func() error {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			var env InEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				continue
			}
			if err := pc.handle(ctx, env); err != nil {
				slog.Warn("bad server message", "type", env.T, "err", err)
			}
		}
	})
	return g.Wait()
}
