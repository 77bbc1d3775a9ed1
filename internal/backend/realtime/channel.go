// Package realtime implements backend.Channel over the Phoenix websocket
// protocol spoken by the realtime server.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/leaguesync/internal/backend"
	"github.com/wolfeidau/leaguesync/internal/models"
	"github.com/wolfeidau/leaguesync/internal/pubsub"
	"github.com/wolfeidau/leaguesync/internal/telemetry"
)

const (
	writeWait     = 10 * time.Second
	readLimit     = 1 << 20
	topicBuffer   = 256
	protocolVsn   = "1.0.0"
	defaultSchema = "public"
)

// Config configures the realtime channel.
type Config struct {
	// URL is the realtime websocket endpoint, e.g. wss://host/realtime/v1/websocket.
	// http and https URLs are converted.
	URL    string
	APIKey string
	Schema string

	HeartbeatInterval time.Duration
	JoinTimeout       time.Duration

	InitialReconnectInterval time.Duration
	MaxReconnectInterval     time.Duration
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Schema == "" {
		c.Schema = defaultSchema
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.InitialReconnectInterval <= 0 {
		c.InitialReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("realtime URL is required")
	}
	return nil
}

type topic struct {
	name    string
	sub     backend.Subscription
	events  chan models.ChangeEvent
	done    chan struct{}
	handler backend.Handler
}

func (t *topic) run() {
	defer close(t.done)
	for ev := range t.events {
		t.handler(ev)
	}
}

// Channel multiplexes push subscriptions over one websocket. It reconnects with
// exponential backoff and rejoins every active topic, and re-sends the access
// token to each topic whenever the token supplier returns a new one. A
// heartbeat still unanswered when the next one is due drops the connection.
type Channel struct {
	cfg    Config
	tokens backend.TokenFunc
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	ws      *websocket.Conn
	topics  map[string]*topic
	pending map[string]chan replyPayload
	token   string
	// heartbeat ref awaiting its reply, empty when acknowledged
	heartbeatRef string

	reconnects *pubsub.Broker[struct{}]

	writeMu sync.Mutex
	ref     atomic.Uint64
	seq     atomic.Uint64
}

// Dial connects to the realtime server. The connection is kept alive until Close.
func Dial(ctx context.Context, cfg Config, tokens backend.TokenFunc) (*Channel, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid realtime config: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:     cfg,
		tokens:  tokens,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		ctx:     runCtx,
		cancel:  cancel,
		topics:  make(map[string]*topic),
		pending: make(map[string]chan replyPayload),

		reconnects: pubsub.NewBroker[struct{}](pubsub.WithBufferSize(1)),
	}

	tok, err := tokens(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get token for realtime: %w", err)
	}
	c.token = tok

	ws, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(ws)

	c.wg.Add(1)
	go c.run(ws)

	return c, nil
}

func (c *Channel) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	if c.cfg.APIKey != "" {
		q.Set("apikey", c.cfg.APIKey)
	}
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	ws, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket dial failed: status=%d: %w", backend.ErrUnavailable, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket dial: %w", backend.ErrUnavailable, err)
	}
	ws.SetReadLimit(readLimit)
	return ws, nil
}

func (c *Channel) setConn(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
}

// run serves connections until Close, reconnecting after each failure.
func (c *Channel) run(ws *websocket.Conn) {
	defer c.wg.Done()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.cfg.InitialReconnectInterval
	expBackoff.MaxInterval = c.cfg.MaxReconnectInterval
	expBackoff.Reset()

	for {
		err := c.serve(ws)
		c.disconnected()

		if c.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("realtime connection lost, reconnecting")

		for {
			delay := expBackoff.NextBackOff()
			timer := time.NewTimer(delay)
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			telemetry.GetMetrics().ChannelReconnectsTotal.Add(c.ctx, 1)
			ws, err = c.dial(c.ctx)
			if err == nil {
				break
			}
			log.Warn().Err(err).Dur("delay", delay).Msg("realtime reconnect failed")
		}

		expBackoff.Reset()
		c.setConn(ws)
		go func() {
			c.rejoin()
			c.reconnects.Publish(struct{}{})
		}()
	}
}

// Reconnects implements backend.Reconnector. A value arrives after each
// reconnect once the active topics have been rejoined.
func (c *Channel) Reconnects(ctx context.Context) <-chan struct{} {
	return c.reconnects.Subscribe(ctx)
}

// serve reads from ws until it fails, sending heartbeats in the background.
func (c *Channel) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		c.heartbeat(ws, stop)
	}()
	defer func() {
		close(stop)
		_ = ws.Close()
		hb.Wait()
	}()

	// close the socket on shutdown to unblock the read
	go func() {
		select {
		case <-c.ctx.Done():
			_ = ws.Close()
		case <-stop:
		}
	}()

	for {
		var msg message
		if err := ws.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		c.dispatch(msg)
	}
}

func (c *Channel) heartbeat(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ref := c.nextRef()
			c.mu.Lock()
			missed := c.heartbeatRef
			c.heartbeatRef = ref
			c.mu.Unlock()
			if missed != "" {
				log.Warn().Str("ref", missed).Msg("heartbeat not acknowledged, dropping connection")
				_ = ws.Close()
				return
			}

			if err := c.writeTo(ws, message{Topic: heartbeatTopic, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: ref}); err != nil {
				log.Debug().Err(err).Msg("heartbeat failed")
				_ = ws.Close()
				return
			}
			c.rotateToken()
		}
	}
}

// rotateToken pushes a new access token to every joined topic when the supplier's token changed.
func (c *Channel) rotateToken() {
	tok, err := c.tokens(c.ctx)
	if err != nil {
		log.Warn().Err(err).Msg("realtime token lookup failed")
		return
	}

	c.mu.Lock()
	if tok == c.token {
		c.mu.Unlock()
		return
	}
	c.token = tok
	names := c.topicNamesLocked()
	c.mu.Unlock()

	payload, _ := json.Marshal(tokenPayload{AccessToken: tok})
	for _, name := range names {
		if err := c.send(message{Topic: name, Event: eventAccessToken, Payload: payload, Ref: c.nextRef()}); err != nil {
			log.Warn().Err(err).Str("topic", name).Msg("failed to rotate realtime token")
		}
	}
	log.Debug().Int("topics", len(names)).Msg("rotated realtime access token")
}

func (c *Channel) dispatch(msg message) {
	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			log.Debug().Err(err).Msg("malformed reply")
			return
		}
		c.mu.Lock()
		if msg.Topic == heartbeatTopic && msg.Ref == c.heartbeatRef {
			c.heartbeatRef = ""
		}
		ch, ok := c.pending[msg.Ref]
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		if ok {
			ch <- reply
		}

	case eventChanges:
		ev, err := backend.DecodeChange(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping malformed change event")
			return
		}
		c.mu.Lock()
		t, ok := c.topics[msg.Topic]
		if ok {
			if ev.Table == "" {
				ev.Table = t.sub.Table
			}
			select {
			case t.events <- ev:
			default:
				telemetry.GetMetrics().ChangeEventsDroppedTotal.Add(c.ctx, 1)
				log.Error().Str("topic", msg.Topic).Msg("subscriber too slow, change event dropped")
			}
		}
		c.mu.Unlock()

	case eventSystem:
		var sys systemPayload
		if err := json.Unmarshal(msg.Payload, &sys); err == nil && sys.Status == "error" {
			log.Error().Str("topic", msg.Topic).Str("message", sys.Message).Msg("realtime system error")
		}

	case eventError, eventClose:
		log.Warn().Str("topic", msg.Topic).Str("event", msg.Event).Msg("realtime topic closed by server")
	}
}

func (c *Channel) disconnected() {
	c.mu.Lock()
	c.ws = nil
	c.heartbeatRef = ""
	pending := c.pending
	c.pending = make(map[string]chan replyPayload)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Channel) rejoin() {
	c.mu.Lock()
	topics := make([]*topic, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	for _, t := range topics {
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.JoinTimeout)
		err := c.join(ctx, t)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("topic", t.name).Msg("failed to rejoin topic")
			continue
		}
		log.Info().Str("topic", t.name).Msg("rejoined topic")
	}
}

// Subscribe joins a topic for sub and delivers its change events to handler.
func (c *Channel) Subscribe(ctx context.Context, sub backend.Subscription, handler backend.Handler) (backend.Unsubscriber, error) {
	if c.ctx.Err() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sub.Table, backend.ErrNotReady)
	}

	t := &topic{
		name:    fmt.Sprintf("realtime:%s:%s:%d", c.cfg.Schema, sub.Table, c.seq.Add(1)),
		sub:     sub,
		events:  make(chan models.ChangeEvent, topicBuffer),
		done:    make(chan struct{}),
		handler: handler,
	}

	c.mu.Lock()
	c.topics[t.name] = t
	c.mu.Unlock()
	go t.run()

	joinCtx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()
	if err := c.join(joinCtx, t); err != nil {
		c.remove(t)
		return nil, err
	}

	log.Debug().Str("topic", t.name).Str("filter", filterExpr(sub.Filter)).Msg("joined topic")

	var once sync.Once
	return backend.UnsubscribeFunc(func() error {
		var err error
		once.Do(func() {
			if serr := c.send(message{Topic: t.name, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}); serr != nil && !errors.Is(serr, backend.ErrUnavailable) {
				err = serr
			}
			c.remove(t)
		})
		return err
	}), nil
}

func (c *Channel) join(ctx context.Context, t *topic) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	payload, err := json.Marshal(newJoin(c.cfg.Schema, t.sub, tok))
	if err != nil {
		return fmt.Errorf("failed to encode join: %w", err)
	}

	reply, err := c.request(ctx, message{Topic: t.name, Event: eventJoin, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", t.name, err)
	}
	if reply.Status != "ok" {
		reason := reply.reason()
		if strings.Contains(strings.ToLower(reason), "expired") {
			return fmt.Errorf("join %s rejected: %s: %w", t.name, reason, backend.ErrTokenExpired)
		}
		return fmt.Errorf("join %s rejected: %s: %w", t.name, reason, backend.ErrUnauthorized)
	}
	return nil
}

// request sends msg and waits for the matching phx_reply.
func (c *Channel) request(ctx context.Context, msg message) (replyPayload, error) {
	msg.Ref = c.nextRef()
	ch := make(chan replyPayload, 1)

	c.mu.Lock()
	c.pending[msg.Ref] = ch
	c.mu.Unlock()

	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		return replyPayload{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return replyPayload{}, fmt.Errorf("%w: connection lost awaiting reply", backend.ErrUnavailable)
		}
		return reply, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.Ref)
		c.mu.Unlock()
		return replyPayload{}, ctx.Err()
	}
}

func (c *Channel) remove(t *topic) {
	c.mu.Lock()
	if _, ok := c.topics[t.name]; ok {
		delete(c.topics, t.name)
		close(t.events)
	}
	c.mu.Unlock()
	<-t.done
}

func (c *Channel) send(msg message) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("%w: not connected", backend.ErrUnavailable)
	}
	return c.writeTo(ws, msg)
}

func (c *Channel) writeTo(ws *websocket.Conn, msg message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *Channel) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Channel) topicNamesLocked() []string {
	names := make([]string, 0, len(c.topics))
	for name := range c.topics {
		names = append(names, name)
	}
	return names
}

// Close leaves every topic and closes the websocket.
func (c *Channel) Close() error {
	c.mu.Lock()
	topics := make([]*topic, 0, len(c.topics))
	for _, t := range c.topics {
		topics = append(topics, t)
	}
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	}

	c.cancel()
	c.wg.Wait()
	c.reconnects.Close()

	for _, t := range topics {
		c.remove(t)
	}
	return nil
}
