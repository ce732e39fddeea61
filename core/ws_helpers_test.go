package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

type chatFixture struct {
	*BaseFixture
	server   *httptest.Server
	manager  *ConnManager
	chatLog  *ChatLog
	clients  []*testWSClient
	clientWg sync.WaitGroup
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// setUpChatFixture wires a real server: sqlite store, connection manager and
// chat log behind an httptest endpoint, with the join hook installed the way
// the app does it.
func setUpChatFixture(t *testing.T) *chatFixture {
	f := &chatFixture{
		BaseFixture: NewBaseFixture(t),
		logger:      slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	f.manager = NewConnManager(f.ctx, &f.wg, f.logger.WithGroup("server"),
		WithConnIDGenerator(&queryConnIDGenerator{}))
	f.chatLog = NewChatLog(f.store, f.manager, f.logger)
	f.manager.OnConnect(func(conn *Conn) error {
		_, err := f.chatLog.Join(f.ctx, conn)
		return err
	})

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.manager.Connect(w, r)
	}))

	return f
}

// connectClient opens a client connection with the given id and starts its
// read loop.
func (f *chatFixture) connectClient(id int) *testWSClient {
	client := newTestWSClient(id, f.logger.WithGroup("client").With(slog.Int("id", id)))
	err := client.Connect(getWSURLFromHTTPURL(f.server.URL))
	require.NoErrorf(f.t, err, "client %d: failed to connect to server", id)

	f.clientWg.Add(1)
	go func() {
		defer f.clientWg.Done()
		client.readLoop()
	}()

	f.clients = append(f.clients, client)
	return client
}

func (f *chatFixture) tearDownAll() {
	for _, client := range f.clients {
		client.Close()
	}
	waitOrTimeout(f.t, func() {
		f.clientWg.Wait()
	}, baseTimeout, "Timeout waiting for client read loops to stop")

	f.server.Close()
	f.manager.Close()
	f.tearDown()
}

type testWSClient struct {
	conn   *websocket.Conn
	id     int
	events chan *Event
	closed chan struct{}
	logger *slog.Logger
}

func newTestWSClient(id int, logger *slog.Logger) *testWSClient {
	return &testWSClient{
		id:     id,
		events: make(chan *Event, 256),
		closed: make(chan struct{}),
		logger: logger,
	}
}

func (c *testWSClient) Connect(_url string) error {
	url, err := url.Parse(_url)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	query := url.Query()
	query.Set("id", strconv.Itoa(c.id))
	url.RawQuery = query.Encode()

	conn, res, err := websocket.DefaultDialer.Dial(url.String(), nil)
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	c.conn = conn
	return nil
}

// SendEvent encodes the payload and writes an event frame to the server.
func (c *testWSClient) SendEvent(t *testing.T, eventType string, payload interface{}) {
	e, err := NewEvent(eventType, payload)
	require.NoError(t, err, "failed to build event")
	w, err := c.conn.NextWriter(websocket.TextMessage)
	require.NoError(t, err, "failed to get connection writer")
	require.NoError(t, EncodeEvent(w, e), "failed to encode event")
	require.NoError(t, w.Close())
}

// NextEvent waits for the next server event or fails the test.
func (c *testWSClient) NextEvent(t *testing.T) *Event {
	select {
	case e := <-c.events:
		return e
	case <-time.After(baseTimeout):
		require.Failf(t, "timeout", "client %d: timeout waiting for event", c.id)
		return nil
	}
}

// NextEventOfType discards events until one of the given type arrives.
func (c *testWSClient) NextEventOfType(t *testing.T, eventType string) *Event {
	for {
		e := c.NextEvent(t)
		if e.Type == eventType {
			return e
		}
	}
}

func decodePayload(t *testing.T, e *Event, v interface{}) {
	require.NoErrorf(t, json.Unmarshal(e.Payload, v), "failed to decode %s payload", e.Type)
}

func (c *testWSClient) readLoop() {
	defer func() {
		c.conn.Close()
		close(c.closed)
	}()
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.Error(fmt.Sprintf("getting next reader from connection: %v", err))
			}
			return
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		c.events <- &event
	}
}

// Close sends a close message and waits for the server to respond in kind.
func (c *testWSClient) Close() {
	select {
	case <-c.closed:
		return
	default:
	}
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-c.closed:
	case <-time.After(baseTimeout):
		c.conn.Close()
	}
}

func getWSURLFromHTTPURL(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// waitOrTimeout waits for fn to finish or times out.
func waitOrTimeout(t *testing.T, fn func(), timeout time.Duration, s string, args ...interface{}) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(timeout):
		require.Failf(t, "timeout", s, args...)
	}
}

// queryConnIDGenerator takes the connection id from the id query parameter,
// so tests can address connections deterministically.
type queryConnIDGenerator struct{}

func (g *queryConnIDGenerator) Generate(r *http.Request, conn *websocket.Conn) (int, error) {
	rawID := r.URL.Query().Get("id")
	if rawID == "" {
		return 0, errors.New("id query is empty")
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return 0, fmt.Errorf("parsing id: %w", err)
	}
	return id, nil
}
