package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matter-labs/zksync-sub003/notifier"
	"github.com/matter-labs/zksync-sub003/types"
)

// WebSocket connection tuning, mirroring the teacher's pkg/rpc/websocket_handler.go
// constants; the teacher's own handler stops short of a real upgrade and
// names gorilla/websocket as the production path, which this package takes.
const (
	WSMaxMessageSize          = 1 << 20
	WSPingInterval            = 30 * time.Second
	WSPongTimeout             = 60 * time.Second
	WSWriteTimeout            = 10 * time.Second
	WSRateLimit               = 100
	WSRateWindow              = time.Second
	WSMaxSubscriptionsPerConn = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// rateBucket is a simple token-bucket limiter for per-connection
// subscribe request throttling.
type rateBucket struct {
	mu       sync.Mutex
	tokens   int
	max      int
	lastFill time.Time
	window   time.Duration
}

func newRateBucket(max int, window time.Duration) *rateBucket {
	return &rateBucket{tokens: max, max: max, lastFill: time.Now(), window: window}
}

func (rb *rateBucket) Allow() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	now := time.Now()
	if now.Sub(rb.lastFill) >= rb.window {
		rb.tokens = rb.max
		rb.lastFill = now
	}
	if rb.tokens <= 0 {
		return false
	}
	rb.tokens--
	return true
}

// subscribeRequest is the client-sent payload identifying what to
// subscribe to: one of "tx", "ethop", "account", each with an action
// filter of "committed" or "verified" (§6).
type subscribeRequest struct {
	Kind      string `json:"kind"`
	Action    string `json:"action"`
	TxHash    string `json:"txHash,omitempty"`
	SerialID  uint64 `json:"serialId,omitempty"`
	AccountID uint32 `json:"accountId,omitempty"`
}

func parseHexHash(s string) (types.Hash, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Hash{}, fmt.Errorf("rpc: invalid tx hash %q: %w", s, err)
	}
	return types.BytesToHash(b), nil
}

func parseAction(s string) (notifier.Action, error) {
	switch s {
	case "committed":
		return notifier.Committed, nil
	case "verified":
		return notifier.Verified, nil
	default:
		return 0, fmt.Errorf("rpc: unknown action filter %q", s)
	}
}

// PubSubHandler upgrades incoming HTTP requests to WebSocket connections
// and fans out notifier events to them, following the one-subscription-set
// per connection pattern of the teacher's WSHandler/WSConn pair.
type PubSubHandler struct {
	notifier *notifier.Notifier
	maxConns int

	mu    sync.RWMutex
	conns map[uint64]*wsConn
	next  atomic.Uint64
}

// NewPubSubHandler constructs a handler delivering events from n.
func NewPubSubHandler(n *notifier.Notifier, maxConns int) *PubSubHandler {
	if maxConns <= 0 {
		maxConns = 1024
	}
	return &PubSubHandler{notifier: n, maxConns: maxConns, conns: make(map[uint64]*wsConn)}
}

type wsConn struct {
	id          uint64
	conn        *websocket.Conn
	rateLimiter *rateBucket
	mu          sync.Mutex
	subs        map[string]*notifier.Subscription
	closed      atomic.Bool
}

// ConnectionCount reports the number of active WebSocket connections.
func (h *PubSubHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and services it until the client
// disconnects or the connection is closed from the server side.
func (h *PubSubHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.conns) >= h.maxConns {
		h.mu.Unlock()
		http.Error(w, "too many WebSocket connections", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	raw.SetReadLimit(WSMaxMessageSize)

	c := &wsConn{
		id:          h.next.Add(1),
		conn:        raw,
		rateLimiter: newRateBucket(WSRateLimit, WSRateWindow),
		subs:        make(map[string]*notifier.Subscription),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	defer h.removeConn(c)

	h.serve(c)
}

func (h *PubSubHandler) removeConn(c *wsConn) {
	c.closed.Store(true)
	c.mu.Lock()
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

func (h *PubSubHandler) serve(c *wsConn) {
	go h.pingLoop(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.rateLimiter.Allow() {
			c.writeJSON(map[string]string{"error": "rate limit exceeded"})
			continue
		}

		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.writeJSON(map[string]string{"error": "invalid subscribe request"})
			continue
		}
		if err := h.subscribe(c, req); err != nil {
			c.writeJSON(map[string]string{"error": err.Error()})
		}
	}
}

func (h *PubSubHandler) pingLoop(c *wsConn) {
	ticker := time.NewTicker(WSPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		c.conn.SetWriteDeadline(time.Now().Add(WSWriteTimeout))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

func (h *PubSubHandler) subscribe(c *wsConn, req subscribeRequest) error {
	c.mu.Lock()
	if len(c.subs) >= WSMaxSubscriptionsPerConn {
		c.mu.Unlock()
		return fmt.Errorf("rpc: maximum subscriptions per connection (%d) reached", WSMaxSubscriptionsPerConn)
	}
	c.mu.Unlock()

	action, err := parseAction(req.Action)
	if err != nil {
		return err
	}

	var sub *notifier.Subscription
	switch req.Kind {
	case "tx":
		hash, err := parseHexHash(req.TxHash)
		if err != nil {
			return err
		}
		sub = h.notifier.SubscribeTx(hash, action)
	case "ethop":
		sub = h.notifier.SubscribePriorityOp(types.SerialID(req.SerialID), action)
	case "account":
		sub = h.notifier.SubscribeAccount(types.AccountID(req.AccountID), action)
	default:
		return fmt.Errorf("rpc: unknown subscription kind %q", req.Kind)
	}

	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	go h.pump(c, sub)
	return c.writeJSON(map[string]string{"subscriptionId": sub.ID})
}

// pump forwards events from a single subscription's channel to the socket
// until the subscription fires (it is single-delivery, per §4.I) or the
// connection closes.
func (h *PubSubHandler) pump(c *wsConn, sub *notifier.Subscription) {
	ev, ok := <-sub.Chan()
	c.mu.Lock()
	delete(c.subs, sub.ID)
	c.mu.Unlock()
	if !ok || c.closed.Load() {
		return
	}
	c.writeJSON(map[string]interface{}{
		"subscriptionId": sub.ID,
		"event":          ev,
	})
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("rpc: connection closed")
	}
	c.conn.SetWriteDeadline(time.Now().Add(WSWriteTimeout))
	return c.conn.WriteJSON(v)
}
