package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout     = 5 * time.Second
	commandTimeout   = 10 * time.Second
	reconnectMinWait = time.Second
	reconnectMaxWait = 30 * time.Second
)

// wsEnvelope is the wire format shared by events, commands and results.
type wsEnvelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Source    *Identity       `json:"source,omitempty"`
	Target    *Identity       `json:"target,omitempty"`
	Targets   []Identity      `json:"targets,omitempty"`
	Lifecycle *LifecycleEvent `json:"lifecycle,omitempty"`
	Roster    *RosterEvent    `json:"roster,omitempty"`
	Frame     *FrameEvent     `json:"frame,omitempty"`
}

type commandResult struct {
	callID string
	err    error
}

// WSClient talks to the telephony platform over one websocket: commands go
// out, lifecycle/roster/frame events come back. Lifecycle and roster events
// are dispatched to the handler; frames only reach calls with an active
// subscription, so a torn-down call never sees another frame.
type WSClient struct {
	logger *logrus.Logger
	url    string

	handlerMu sync.RWMutex
	handler   EventHandler

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan commandResult

	subsMu sync.RWMutex
	subs   map[string]FrameSink
}

// NewWSClient creates a platform client for the given event feed URL.
// The event handler is attached separately via SetHandler before Run.
func NewWSClient(logger *logrus.Logger, url string) *WSClient {
	return &WSClient{
		logger:  logger,
		url:     url,
		pending: make(map[string]chan commandResult),
		subs:    make(map[string]FrameSink),
	}
}

// SetHandler attaches the receiver for lifecycle and roster events.
func (c *WSClient) SetHandler(handler EventHandler) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

func (c *WSClient) currentHandler() EventHandler {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	return c.handler
}

// Run dials the platform and pumps events until ctx is cancelled,
// reconnecting with backoff on connection loss.
func (c *WSClient) Run(ctx context.Context) {
	wait := reconnectMinWait
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.WithError(err).WithField("url", c.url).Warn("Platform feed dial failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if wait *= 2; wait > reconnectMaxWait {
				wait = reconnectMaxWait
			}
			continue
		}

		wait = reconnectMinWait
		c.setConn(conn)
		c.logger.WithField("url", c.url).Info("Connected to platform event feed")
		c.resubscribe()

		c.readLoop(ctx, conn)
		c.setConn(nil)
		c.failPending(fmt.Errorf("platform feed disconnected"))
	}
}

func (c *WSClient) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn != nil && conn == nil {
		c.conn.Close()
	}
	c.conn = conn
	c.connMu.Unlock()
}

func (c *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			conn.Close()
			return
		}

		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				c.logger.WithError(err).Warn("Platform feed read failed")
			}
			conn.Close()
			return
		}

		c.dispatch(env)
	}
}

func (c *WSClient) dispatch(env wsEnvelope) {
	switch env.Type {
	case "result":
		c.resolvePending(env)

	case "lifecycle":
		if handler := c.currentHandler(); handler != nil && env.Lifecycle != nil {
			handler.HandleLifecycle(*env.Lifecycle)
		}

	case "roster":
		if handler := c.currentHandler(); handler != nil && env.Roster != nil {
			handler.HandleRoster(*env.Roster)
		}

	case "frame":
		if env.Frame != nil {
			c.deliverFrame(*env.Frame)
		}

	default:
		c.logger.WithField("type", env.Type).Debug("Ignoring unknown platform event")
	}
}

// deliverFrame holds the subscription read lock for the duration of the
// sink callback, so Cancel blocks until in-flight delivery completes.
func (c *WSClient) deliverFrame(frame FrameEvent) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	sink, ok := c.subs[frame.CallID]
	if !ok {
		return
	}
	sink.OnFrameReceived(frame.StreamID, frame.Payload)
}

func (c *WSClient) resolvePending(env wsEnvelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.pendingMu.Unlock()

	if !ok {
		return
	}

	result := commandResult{callID: env.CallID}
	if env.Error != "" {
		result.err = fmt.Errorf("platform: %s", env.Error)
	}
	ch <- result
}

func (c *WSClient) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- commandResult{err: err}
	}
	c.pendingMu.Unlock()
}

func (c *WSClient) sendCommand(ctx context.Context, env wsEnvelope) (commandResult, error) {
	env.RequestID = uuid.NewString()

	ch := make(chan commandResult, 1)
	c.pendingMu.Lock()
	c.pending[env.RequestID] = ch
	c.pendingMu.Unlock()

	if err := c.writeEnvelope(env); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, env.RequestID)
		c.pendingMu.Unlock()
		return commandResult{}, err
	}

	select {
	case result := <-ch:
		return result, result.err
	case <-time.After(commandTimeout):
		c.pendingMu.Lock()
		delete(c.pending, env.RequestID)
		c.pendingMu.Unlock()
		return commandResult{}, fmt.Errorf("platform command %q timed out", env.Type)
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, env.RequestID)
		c.pendingMu.Unlock()
		return commandResult{}, ctx.Err()
	}
}

func (c *WSClient) writeEnvelope(env wsEnvelope) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("platform feed not connected")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// PlaceCall implements Client.
func (c *WSClient) PlaceCall(ctx context.Context, source Identity, targets []Identity) (string, error) {
	result, err := c.sendCommand(ctx, wsEnvelope{
		Type:    "place_call",
		Source:  &source,
		Targets: targets,
	})
	if err != nil {
		return "", err
	}
	return result.callID, nil
}

// AddParticipant implements Client.
func (c *WSClient) AddParticipant(ctx context.Context, callID string, target Identity) error {
	_, err := c.sendCommand(ctx, wsEnvelope{
		Type:   "add_participant",
		CallID: callID,
		Target: &target,
	})
	return err
}

// Hangup implements Client.
func (c *WSClient) Hangup(ctx context.Context, callID string) error {
	_, err := c.sendCommand(ctx, wsEnvelope{
		Type:   "hangup",
		CallID: callID,
	})
	return err
}

// SubscribeFrames implements Client.
func (c *WSClient) SubscribeFrames(callID string, sink FrameSink) (Subscription, error) {
	c.subsMu.Lock()
	c.subs[callID] = sink
	c.subsMu.Unlock()

	// Best effort: frame delivery is gated locally either way.
	if err := c.writeEnvelope(wsEnvelope{Type: "subscribe", CallID: callID}); err != nil {
		c.logger.WithError(err).WithField("call_id", callID).Warn("Failed to send subscribe command")
	}

	return &wsSubscription{client: c, callID: callID}, nil
}

func (c *WSClient) resubscribe() {
	c.subsMu.RLock()
	callIDs := make([]string, 0, len(c.subs))
	for callID := range c.subs {
		callIDs = append(callIDs, callID)
	}
	c.subsMu.RUnlock()

	for _, callID := range callIDs {
		if err := c.writeEnvelope(wsEnvelope{Type: "subscribe", CallID: callID}); err != nil {
			c.logger.WithError(err).WithField("call_id", callID).Warn("Failed to resubscribe after reconnect")
		}
	}
}

func (c *WSClient) removeSubscription(callID string) {
	c.subsMu.Lock()
	delete(c.subs, callID)
	c.subsMu.Unlock()

	if err := c.writeEnvelope(wsEnvelope{Type: "unsubscribe", CallID: callID}); err != nil {
		c.logger.WithError(err).WithField("call_id", callID).Debug("Failed to send unsubscribe command")
	}
}

type wsSubscription struct {
	client *WSClient
	callID string
	once   sync.Once
}

// Cancel stops frame delivery. It blocks until any in-flight frame callback
// has returned, so no frame for this call is processed afterwards.
func (s *wsSubscription) Cancel() {
	s.once.Do(func() {
		s.client.removeSubscription(s.callID)
	})
}
