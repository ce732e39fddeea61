package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

type ConnIDGenerator interface {
	Generate(r *http.Request, conn *websocket.Conn) (int, error)
}

type AutoIncrementConnIDGenerator struct {
	counter int64
	mu      sync.Mutex
}

func (g *AutoIncrementConnIDGenerator) Generate(_ *http.Request, _ *websocket.Conn) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return int(g.counter), nil
}

// ConnManager is the connection registry. It tracks every live session and
// its delivery channel, and fans server events out to all of them.
//
// Registration is deliberately decoupled from Connect: the manager upgrades
// the transport and hands the new Conn to the onConnect hook, which the sync
// engine uses to fuse registration with the snapshot read. A connection only
// becomes a broadcast target once register is called.
type ConnManager struct {
	conns   map[int]*Conn
	mu      sync.RWMutex
	connWg  *sync.WaitGroup
	context context.Context
	logger  *slog.Logger

	idGenerator ConnIDGenerator

	onConnect    func(*Conn) error
	onDisconnect func(*Conn)

	receivedEvent chan *Event

	upgrader        websocket.Upgrader
	ReadStreamSize  int
	WriteStreamSize int
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithConnIDGenerator(g ConnIDGenerator) ManagerOption {
	return func(m *ConnManager) {
		m.idGenerator = g
	}
}

func NewConnManager(context context.Context, wg *sync.WaitGroup, logger *slog.Logger, opts ...ManagerOption) *ConnManager {
	m := &ConnManager{
		connWg:          wg,
		conns:           make(map[int]*Conn),
		logger:          logger,
		context:         context,
		upgrader:        defaultUpgrader,
		idGenerator:     &AutoIncrementConnIDGenerator{},
		ReadStreamSize:  100,
		WriteStreamSize: 100,
		onDisconnect:    func(*Conn) {},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.receivedEvent = make(chan *Event, m.ReadStreamSize)
	m.onConnect = func(c *Conn) error {
		m.register(c)
		return nil
	}

	return m
}

// Receive exposes the stream of inbound events from all connections.
func (m *ConnManager) Receive() <-chan *Event {
	return m.receivedEvent
}

// OnConnect replaces the registration hook. The hook must call register on
// the new connection (directly or through the sync engine) before it
// returns; returning an error aborts the connection.
func (m *ConnManager) OnConnect(f func(*Conn) error) {
	m.onConnect = f
}

func (m *ConnManager) OnDisconnect(f func(*Conn)) {
	m.onDisconnect = f
}

func (m *ConnManager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Connect upgrades the request, runs the registration hook and starts the
// connection's read and write loops.
func (m *ConnManager) Connect(w http.ResponseWriter, r *http.Request) error {
	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	id, err := m.idGenerator.Generate(r, wsConn)
	if err != nil {
		wsConn.Close()
		return fmt.Errorf("generate connection id: %w", err)
	}

	conn := &Conn{
		id:          id,
		conn:        wsConn,
		context:     m.context,
		joinedAt:    time.Now().UTC(),
		writeStream: make(chan *Event, m.WriteStreamSize),
		readStream:  m.receivedEvent,
		ticker:      time.NewTicker(pingPeriod),
		logger:      m.logger.With(slog.Int("connection", id)),
		notifyDisconnect: func() {
			m.disconnect(id)
		},
	}

	if err := m.onConnect(conn); err != nil {
		wsConn.Close()
		return fmt.Errorf("connect hook: %w", err)
	}

	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		conn.readLoop()
	}()
	m.connWg.Add(1)
	go func() {
		defer m.connWg.Done()
		conn.writeLoop()
	}()

	conn.logger.Info("connection opened")
	return nil
}

// register makes the connection a broadcast target.
func (m *ConnManager) register(c *Conn) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
}

// unregister removes a connection that never started its loops.
// It is the rollback path for a failed registration hook.
func (m *ConnManager) unregister(id int) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

func (m *ConnManager) disconnect(id int) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.conns, id)
	m.mu.Unlock()

	conn.close()
	m.onDisconnect(conn)
}

// Send enqueues an event on every registered connection. Delivery is
// best-effort per target: a connection whose buffer is full is dropped
// after the iteration, and failures never affect the other targets.
func (m *ConnManager) Send(e *Event) {
	var stalled []int
	m.mu.RLock()
	for id, conn := range m.conns {
		if !conn.trySend(e) {
			stalled = append(stalled, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stalled {
		m.logger.Warn("dropping stalled connection", slog.Int("connection", id))
		m.disconnect(id)
	}
}

// Close disconnects every registered connection.
func (m *ConnManager) Close() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[int]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.close()
		m.onDisconnect(c)
	}
}
