package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Seednode/impostor/games/impostor"
)

type frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error"`
	Room    json.RawMessage `json:"room"`
	IsHost  bool            `json:"isHost"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int64
}

func newTestServer(t *testing.T) (*httptest.Server, *impostor.Manager) {
	t.Helper()

	games, err := impostor.NewManager(impostor.Options{Countdown: 20 * time.Millisecond})
	require.NoError(t, err)

	cfg := &Config{port: 8080, countdown: time.Second, maxRounds: 20}
	errs := make(chan error, 64)
	srv := httptest.NewServer(newRouter(cfg, zap.NewNop().Sugar(), games, errs))
	t.Cleanup(srv.Close)

	return srv, games
}

func dial(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) request(typ string, payload any) frame {
	c.t.Helper()

	c.seq++
	msg := map[string]any{"type": typ, "id": c.seq}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))

	ack := c.expect("ack")
	require.Equal(c.t, c.seq, ack.ID)
	return ack
}

// expect reads frames until one of type typ arrives.
func (c *wsClient) expect(typ string) frame {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f))
		if f.Type == typ {
			return f
		}
	}
}

func TestWebsocketGame(t *testing.T) {
	srv, games := newTestServer(t)

	host := dial(t, srv)
	ack := host.request("create_room", map[string]any{"name": "Alice"})
	require.True(t, ack.OK)
	assert.True(t, ack.IsHost)

	var snap impostor.RoomSnapshot
	require.NoError(t, json.Unmarshal(ack.Room, &snap))
	require.Len(t, snap.Code, 5)

	guests := []*wsClient{dial(t, srv), dial(t, srv)}
	for i, g := range guests {
		ack := g.request("join_room", map[string]any{"name": []string{"Bob", "Carol"}[i], "code": snap.Code})
		require.True(t, ack.OK, ack.Message)
		assert.False(t, ack.IsHost)
	}

	denied := guests[0].request("start_game", map[string]any{"impostors": 1, "totalRounds": 1, "theme": "food"})
	assert.False(t, denied.OK)
	assert.Equal(t, "not_host", denied.Error)

	ack = host.request("start_game", map[string]any{"impostors": 1, "totalRounds": 1, "theme": "food", "lang": "en"})
	require.True(t, ack.OK, ack.Message)

	impostors := 0
	for _, c := range append([]*wsClient{host}, guests...) {
		c.expect("game_started")

		var role impostor.PrivateRole
		require.NoError(t, json.Unmarshal(c.expect("private_role").Data, &role))
		if role.Role == impostor.Impostor {
			impostors++
		}
	}
	assert.Equal(t, 1, impostors)

	room, err := games.Registry().Resolve(snap.Code)
	require.NoError(t, err)
	assert.True(t, room.Game().Started)
}

func TestWebsocketBadFrames(t *testing.T) {
	srv, _ := newTestServer(t)
	c := dial(t, srv)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ack := c.expect("ack")
	assert.False(t, ack.OK)
	assert.Equal(t, "bad_request", ack.Error)

	ack = c.request("moonwalk", nil)
	assert.False(t, ack.OK)
	assert.Equal(t, "unknown_request", ack.Error)

	ack = c.request("next_round", nil)
	assert.Equal(t, "not_found", ack.Error)
}

func TestWebsocketDisconnectLeavesRoom(t *testing.T) {
	srv, games := newTestServer(t)

	host := dial(t, srv)
	ack := host.request("create_room", map[string]any{"name": "Alice"})
	require.True(t, ack.OK)
	require.Equal(t, 1, games.Registry().Len())

	require.NoError(t, host.conn.Close())
	assert.Eventually(t, func() bool {
		return games.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPEndpoints(t *testing.T) {
	srv, games := newTestServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, "Ok\n", string(body))

	res, err = http.Get(srv.URL + "/themes")
	require.NoError(t, err)
	var themes []impostor.ThemeInfo
	require.NoError(t, json.NewDecoder(res.Body).Decode(&themes))
	_ = res.Body.Close()
	assert.Equal(t, games.Words().Themes(), themes)

	res, err = http.Get(srv.URL + "/room/NOPE2/qr")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	host := dial(t, srv)
	ack := host.request("create_room", map[string]any{"name": "Alice"})
	var snap impostor.RoomSnapshot
	require.NoError(t, json.Unmarshal(ack.Room, &snap))

	res, err = http.Get(srv.URL + "/room/" + strings.ToLower(snap.Code) + "/qr")
	require.NoError(t, err)
	png, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(png), "\x89PNG"))
}

func TestRoomURL(t *testing.T) {
	cfg := &Config{prefix: "/games"}
	r := httptest.NewRequest(http.MethodGet, "http://party.example/room/ABCDE/qr", nil)
	r.Header.Set("X-Forwarded-Proto", "https")

	assert.Equal(t, "https://party.example/games/?room=ABCDE", roomURL(cfg, r, "ABCDE"))
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{port: 8080, countdown: 3 * time.Second, maxRounds: 20}
	}
	require.NoError(t, valid().validate())

	for name, mutate := range map[string]func(*Config){
		"port":      func(c *Config) { c.port = 0 },
		"tls":       func(c *Config) { c.tlsCert = "cert.pem" },
		"countdown": func(c *Config) { c.countdown = 0 },
		"grace":     func(c *Config) { c.reconnectGrace = -time.Second },
		"timeout":   func(c *Config) { c.sessionTimeout = -time.Second },
		"rounds":    func(c *Config) { c.maxRounds = 0 },
	} {
		cfg := valid()
		mutate(cfg)
		assert.Error(t, cfg.validate(), name)
	}
}
