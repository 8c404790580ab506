package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

type testServer struct {
	*httptest.Server
	wsURL string
	hub   *Hub
}

// startTestServer spins up an httptest.Server with a Hub over an in-memory
// room manager and no database
func startTestServer(t *testing.T) *testServer {
	return startTestServerWith(t, nil, DefaultLimits())
}

func startTestServerWith(t *testing.T, db *DB, limits Limits) *testServer {
	t.Helper()

	// Create a temp client dir with a minimal index.html
	tmpDir := t.TempDir()
	jsDir := filepath.Join(tmpDir, "js")
	os.MkdirAll(jsDir, 0o755)
	os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte("<html>test</html>"), 0o644)
	os.WriteFile(filepath.Join(jsDir, "main.js"), []byte("// test"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	sessions := NewSessionManager(ctx, DefaultGameConfig(), db, nil)
	hub := NewHub(sessions, NewAuth(db), db, limits)
	go hub.Run(ctx.Done())

	srv := httptest.NewServer(SetupRoutes(hub, tmpDir, ""))
	t.Cleanup(func() {
		srv.Close()
		sessions.Close()
		cancel()
	})
	return &testServer{
		Server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		hub:    hub,
	}
}

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// readUntil reads text frames until one of type want arrives. Binary
// snapshot frames and other message types are skipped.
func readUntil(t *testing.T, conn *websocket.Conn, want string) InEnvelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.T == want {
			return env
		}
	}
}

// readStateUntil waits for a text snapshot whose state is want
func readStateUntil(t *testing.T, conn *websocket.Conn, want string) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readUntil(t, conn, MsgState)
		var snap Snapshot
		if err := json.Unmarshal(env.D, &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.State == want {
			return snap
		}
	}
	t.Fatalf("no %q frame", want)
	return Snapshot{}
}

func decode[T any](t *testing.T, env InEnvelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.D, &v); err != nil {
		t.Fatalf("decode %s: %v", env.T, err)
	}
	return v
}

// createRoom creates a room and returns the created reply
func createRoom(t *testing.T, conn *websocket.Conn, name, passcode string) CreatedMsg {
	t.Helper()
	sendMsg(t, conn, MsgCreate, CreateMsg{Name: name, Passcode: passcode})
	return decode[CreatedMsg](t, readUntil(t, conn, MsgCreated))
}

// hostAndGuest creates a room, joins it as host on one connection and as
// joiner through the ticket on another
func hostAndGuest(t *testing.T, ts *testServer) (host, guest *websocket.Conn, sid string) {
	t.Helper()
	host = dialWS(t, ts.wsURL)
	created := createRoom(t, host, "Arena", "")
	sendMsg(t, host, MsgJoin, JoinMsg{SID: created.SID, Role: "host"})
	readUntil(t, host, MsgJoined)

	guest = dialWS(t, ts.wsURL)
	sendMsg(t, guest, MsgJoin, JoinMsg{Ticket: created.Ticket})
	readUntil(t, guest, MsgJoined)
	return host, guest, created.SID
}

// ---------- UUID generation tests ----------

func TestGenerateUUIDFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := GenerateUUID()
		if !uuidRegex.MatchString(id) {
			t.Errorf("GenerateUUID() = %q, does not match UUID v4 format", id)
		}
	}
}

func TestGenerateUUIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUUID()
		if seen[id] {
			t.Fatalf("duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestSessionIDIsUUID(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "TestArena", "")
	if !uuidRegex.MatchString(created.SID) {
		t.Errorf("session ID %q is not a valid UUID v4", created.SID)
	}
	if created.Ticket == "" {
		t.Error("create should hand out a join ticket")
	}
}

// ---------- SPA routing ----------

func TestSPARoutingRoot(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control: no-cache, got %q", cc)
	}
}

func TestSPARoutingUUIDPath(t *testing.T) {
	ts := startTestServer(t)

	uuid := GenerateUUID()
	resp, err := http.Get(ts.URL + "/" + uuid)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("GET /%s status = %d, want 200", uuid, resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<html>") {
		t.Errorf("UUID path should serve index.html, got %q", body)
	}
}

func TestSPARoutingStaticFiles(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.URL + "/js/main.js")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("GET /js/main.js status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/not-a-uuid")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	// Should fall through to file server (404)
	if resp2.StatusCode != 404 {
		t.Errorf("GET /not-a-uuid status = %d, want 404", resp2.StatusCode)
	}
}

// ---------- HTTP API ----------

func TestHealthz(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	createRoom(t, c, "Arena", "")

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["sessions"] != 1 {
		t.Errorf("expected 1 session, got %v", body)
	}
	if _, ok := body["clients"]; !ok {
		t.Error("healthz should report the client count")
	}
}

func TestLeaderboardWithoutDatabase(t *testing.T) {
	ts := startTestServer(t)
	resp, err := http.Get(ts.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty list, got %s", body)
	}
}

func TestLeaderboardWithDatabase(t *testing.T) {
	db := openTestDB(t)
	db.RecordRound(RoundRow{SessionID: "a", Name: "first", Score: 3, Duration: 60})
	db.RecordRound(RoundRow{SessionID: "b", Name: "second", Score: 1, Duration: 60})
	ts := startTestServerWith(t, db, DefaultLimits())

	resp, err := http.Get(ts.URL + "/api/leaderboard?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var entries []LeaderboardEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "first" || entries[0].Rank != 1 {
		t.Errorf("unexpected leaderboard %+v", entries)
	}
}

func TestQRCode(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "Arena", "")

	resp, err := http.Get(ts.URL + "/api/qr/" + created.SID)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("expected a PNG, got %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("body is not a PNG image")
	}

	missing, err := http.Get(ts.URL + "/api/qr/" + GenerateUUID())
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != 404 {
		t.Errorf("unknown room should 404, got %d", missing.StatusCode)
	}
}

func TestJoinLink(t *testing.T) {
	link := joinLink("https://play.example", "abc", "t.o+k")
	u, err := url.Parse(link)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/abc" || u.Query().Get("ticket") != "t.o+k" {
		t.Errorf("unexpected join link %s", link)
	}
}

// ---------- WebSocket protocol ----------

func TestWSList(t *testing.T) {
	ts := startTestServer(t)
	host, _, sid := hostAndGuest(t, ts)

	sendMsg(t, host, MsgList, nil)
	list := decode[[]SessionInfo](t, readUntil(t, host, MsgSessions))
	if len(list) != 1 || list[0].ID != sid || list[0].Players != 2 || !list[0].HasHost || !list[0].HasGuest {
		t.Errorf("unexpected room list %+v", list)
	}
}

func TestJoinViaTicket(t *testing.T) {
	ts := startTestServer(t)
	host := dialWS(t, ts.wsURL)
	created := createRoom(t, host, "Arena", "")
	sendMsg(t, host, MsgJoin, JoinMsg{SID: created.SID, Role: "host"})
	joined := decode[JoinedMsg](t, readUntil(t, host, MsgJoined))
	if joined.Role != "host" || joined.PID == "" || joined.SID != created.SID {
		t.Fatalf("unexpected host join %+v", joined)
	}

	guest := dialWS(t, ts.wsURL)
	sendMsg(t, guest, MsgJoin, JoinMsg{Ticket: created.Ticket})
	joined = decode[JoinedMsg](t, readUntil(t, guest, MsgJoined))
	if joined.Role != "joiner" || joined.SID != created.SID {
		t.Fatalf("ticket should seat the joiner, got %+v", joined)
	}
	snap := decode[Snapshot](t, readUntil(t, guest, MsgState))
	if snap.State != "start" {
		t.Errorf("joiner should get the current frame, got %q", snap.State)
	}

	notice := decode[PeerMsg](t, readUntil(t, host, MsgPeerJoined))
	if notice.Role != "joiner" {
		t.Errorf("host should learn the joiner arrived, got %+v", notice)
	}
}

func TestJoinErrors(t *testing.T) {
	ts := startTestServer(t)
	host := dialWS(t, ts.wsURL)
	created := createRoom(t, host, "Locked", "1234")

	c := dialWS(t, ts.wsURL)
	cases := []struct {
		msg  JoinMsg
		want string
	}{
		{JoinMsg{SID: GenerateUUID()}, ErrSessionNotFound.Error()},
		{JoinMsg{Ticket: "forged.ticket.value"}, ErrInvalidTicket.Error()},
		{JoinMsg{SID: GenerateUUID(), Ticket: created.Ticket}, ErrInvalidTicket.Error()},
		{JoinMsg{SID: created.SID, Role: "host", Passcode: "0000"}, ErrBadPasscode.Error()},
	}
	for _, tc := range cases {
		sendMsg(t, c, MsgJoin, tc.msg)
		got := decode[ErrorMsg](t, readUntil(t, c, MsgError))
		if got.Msg != tc.want {
			t.Errorf("join %+v: expected %q, got %q", tc.msg, tc.want, got.Msg)
		}
	}

	// the ticket bypasses the passcode
	sendMsg(t, c, MsgJoin, JoinMsg{Ticket: created.Ticket})
	readUntil(t, c, MsgJoined)
}

func TestSignalRelay(t *testing.T) {
	ts := startTestServer(t)
	host, guest, _ := hostAndGuest(t, ts)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	sendMsg(t, host, MsgSignal, SignalMsg{Payload: payload})
	got := decode[SignalMsg](t, readUntil(t, guest, MsgSignal))
	if got.From != "host" {
		t.Errorf("expected signal from host, got %q", got.From)
	}
	var a, b interface{}
	json.Unmarshal(got.Payload, &a)
	json.Unmarshal(payload, &b)
	if a.(map[string]interface{})["sdp"] != b.(map[string]interface{})["sdp"] {
		t.Errorf("payload altered in transit: %s", got.Payload)
	}
}

func TestSignalWithoutPeer(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "Arena", "")
	sendMsg(t, c, MsgJoin, JoinMsg{SID: created.SID, Role: "host"})
	readUntil(t, c, MsgJoined)

	sendMsg(t, c, MsgSignal, SignalMsg{Payload: json.RawMessage(`{}`)})
	if got := decode[ErrorMsg](t, readUntil(t, c, MsgError)); got.Msg != ErrNoPeer.Error() {
		t.Errorf("expected %q, got %q", ErrNoPeer.Error(), got.Msg)
	}
}

func TestCommandsDriveRound(t *testing.T) {
	ts := startTestServer(t)
	host, guest, _ := hostAndGuest(t, ts)

	sendMsg(t, guest, MsgCmd, CmdMsg{Action: "start"})
	readStateUntil(t, host, "playing")

	sendMsg(t, host, MsgKey, KeyMsg{Key: "ArrowUp", Down: true})
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := readStateUntil(t, host, "playing")
		if snap.Intent.Z == -1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("intent never reflected the key, last %+v", snap.Intent)
		}
	}

	sendMsg(t, host, MsgCmd, CmdMsg{Action: "pause"})
	readStateUntil(t, guest, "paused")
	sendMsg(t, host, MsgCmd, CmdMsg{Action: "quit"})
	snap := readStateUntil(t, guest, "start")
	if snap.Stats.TimeLeft != RoundSeconds {
		t.Errorf("quit should reset the timer, got %d", snap.Stats.TimeLeft)
	}

	sendMsg(t, host, MsgCmd, CmdMsg{Action: "fly"})
	if got := decode[ErrorMsg](t, readUntil(t, host, MsgError)); got.Msg != "unknown command" {
		t.Errorf("unexpected error %q", got.Msg)
	}
}

func TestKeysKeepRoomActive(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "Arena", "")
	sendMsg(t, c, MsgJoin, JoinMsg{SID: created.SID, Role: "host"})
	readUntil(t, c, MsgJoined)

	sess := ts.hub.sessions.GetSession(created.SID)
	stale := time.Now().Add(-2 * SessionIdleTimeout)
	sess.mu.Lock()
	sess.lastActive = stale
	sess.mu.Unlock()

	sendMsg(t, c, MsgKey, KeyMsg{Key: "ArrowLeft", Down: true})
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess.mu.Lock()
		last := sess.lastActive
		sess.mu.Unlock()
		if last.After(stale) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("key input should refresh the room's activity")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := ts.hub.sessions.ReapIdle(time.Now()); n != 0 {
		t.Errorf("a room receiving keys was reaped (%d)", n)
	}
}

func TestBinarySnapshots(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "Arena", "")
	sendMsg(t, c, MsgJoin, JoinMsg{SID: created.SID, Role: "host", Binary: true})
	readUntil(t, c, MsgJoined)

	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		msgType, raw, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var snap Snapshot
		if err := msgpack.Unmarshal(raw, &snap); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		if snap.State != "start" || snap.Ball == nil {
			t.Errorf("unexpected binary frame %+v", snap)
		}
		return
	}
}

func TestInputBeforeJoin(t *testing.T) {
	ts := startTestServer(t)
	c := dialWS(t, ts.wsURL)

	// Should not crash
	sendMsg(t, c, MsgKey, KeyMsg{Key: "ArrowUp", Down: true})
	sendMsg(t, c, MsgCmd, CmdMsg{Action: "start"})
	sendMsg(t, c, MsgSignal, SignalMsg{Payload: json.RawMessage(`{}`)})
	sendMsg(t, c, MsgLeave, nil)

	// Should still work after
	sendMsg(t, c, MsgList, nil)
	readUntil(t, c, MsgSessions)
}

func TestLeaveNotifiesPeer(t *testing.T) {
	ts := startTestServer(t)
	host, guest, _ := hostAndGuest(t, ts)

	sendMsg(t, guest, MsgLeave, nil)
	if got := decode[PeerMsg](t, readUntil(t, host, MsgPeerLeft)); got.Role != "joiner" {
		t.Errorf("expected joiner to leave, got %+v", got)
	}
}

// ---------- Disconnect cleans up the room ----------

func TestDisconnectCleansUpSession(t *testing.T) {
	ts := startTestServer(t)

	c := dialWS(t, ts.wsURL)
	created := createRoom(t, c, "Temp", "")
	sendMsg(t, c, MsgJoin, JoinMsg{SID: created.SID, Role: "host"})
	readUntil(t, c, MsgJoined)
	c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.sessions.GetSession(created.SID) != nil {
		if time.Now().After(deadline) {
			t.Fatal("session should be cleaned up after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnectionLimit(t *testing.T) {
	ts := startTestServerWith(t, nil, Limits{MaxConnsPerIP: 1, MaxTotalConns: 10})
	dialWS(t, ts.wsURL)

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	if err == nil {
		t.Fatal("second connection from the same address should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %v", resp)
	}
}

// ---------- Util functions ----------

func TestGenerateIDLength(t *testing.T) {
	id := GenerateID(4)
	if len(id) != 8 { // 4 bytes = 8 hex chars
		t.Errorf("expected 8 chars, got %d: %s", len(id), id)
	}

	id2 := GenerateID(8)
	if len(id2) != 16 {
		t.Errorf("expected 16 chars, got %d: %s", len(id2), id2)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, min, max, want float64
	}{
		{5, 0, 10, 5},
		{-1, 0, 10, 0},
		{15, 0, 10, 10},
		{0, 0, 10, 0},
		{10, 0, 10, 10},
	}
	for _, tt := range tests {
		got := Clamp(tt.v, tt.min, tt.max)
		if got != tt.want {
			t.Errorf("Clamp(%f, %f, %f) = %f, want %f", tt.v, tt.min, tt.max, got, tt.want)
		}
	}
	if ClampInt(150, 0, 100) != 100 || ClampInt(-3, 0, 100) != 0 || ClampInt(42, 0, 100) != 42 {
		t.Error("ClampInt out of range")
	}
}
