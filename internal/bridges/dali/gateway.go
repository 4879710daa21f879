package dali

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for gateway communication.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultResponseTimeout bounds one forward frame round trip. A DALI
	// backward frame arrives within 22 Te after the forward frame; gateways
	// add their own queueing on top.
	defaultResponseTimeout = 2 * time.Second

	// gatewayHeaderSize is size(2) + type(2).
	gatewayHeaderSize = 4

	// maxGatewayMessage bounds the declared size of an incoming message.
	maxGatewayMessage = 64
)

// Gateway message types.
const (
	// GatewayOpenBus selects the DALI line handled by this connection.
	// Payload: bus(1). The gateway echoes the message on success.
	GatewayOpenBus uint16 = 0x0001

	// GatewayForward carries one forward frame.
	// Payload: bus(1) + flags(1) + address(1) + data(1).
	GatewayForward uint16 = 0x0010

	// GatewayReply answers a GatewayForward.
	// Payload: status(1) + value(1).
	GatewayReply uint16 = 0x0011
)

// Forward frame flags.
const (
	flagSendTwice    byte = 0x01
	flagExpectAnswer byte = 0x02
)

// ReplyStatus is the gateway's classification of the bus reaction to a
// forward frame.
type ReplyStatus uint8

const (
	// ReplyNone means no backward frame was received.
	ReplyNone ReplyStatus = 0

	// ReplyAnswer means a single well-formed backward frame was received.
	ReplyAnswer ReplyStatus = 1

	// ReplyCollision means the backward frame was corrupted, which happens
	// when several devices answer simultaneously.
	ReplyCollision ReplyStatus = 2

	// ReplyBusError means the gateway could not drive the bus (no power,
	// short circuit).
	ReplyBusError ReplyStatus = 3
)

// Reply is the gateway's answer to one forward frame.
type Reply struct {
	Status ReplyStatus
	Value  byte
}

// Transmitter sends forward frames and returns the gateway's reply.
// It is the only capability GatewayBus needs; tests substitute a simulator.
type Transmitter interface {
	Transmit(ctx context.Context, f ForwardFrame) (Reply, error)
}

// GatewayConfig holds gateway connection configuration.
type GatewayConfig struct {
	// Connection is the gateway connection URL.
	// Supported formats:
	//   - "unix:///run/dali-gateway" (Unix socket)
	//   - "tcp://192.168.1.40:5760" (TCP)
	Connection string

	// Bus selects the DALI line on multi-line gateways.
	Bus uint8

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ResponseTimeout bounds a single forward frame round trip.
	// Default: 2 seconds.
	ResponseTimeout time.Duration
}

// GatewayStats holds operational statistics.
type GatewayStats struct {
	FramesTx     uint64
	RepliesRx    uint64
	ErrorsTotal  uint64
	Reconnects   uint64
	LastActivity time.Time
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Ensure GatewayClient implements Transmitter.
var _ Transmitter = (*GatewayClient)(nil)

// GatewayClient is a connection to a DALI gateway.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Transmit calls are serialised; the bus carries one forward frame at a time.
//
// Reconnection:
//   - A transport error closes the connection. The next Transmit redials once
//     before giving up, so a single failed frame never resumes silently.
type GatewayClient struct {
	cfg     GatewayConfig
	network string
	address string

	// txMu serialises request/reply pairs and guards conn.
	txMu sync.Mutex
	conn net.Conn

	connected atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex

	framesTx     atomic.Uint64
	repliesRx    atomic.Uint64
	errorsTotal  atomic.Uint64
	reconnects   atomic.Uint64
	lastActivity atomic.Int64
}

// ConnectGateway establishes a connection to the gateway and opens the
// configured bus.
//
// Parameters:
//   - ctx: Context for cancellation (used for the initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *GatewayClient: Connected client ready for use
//   - error: If connection or handshake fails
func ConnectGateway(ctx context.Context, cfg GatewayConfig) (*GatewayClient, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &GatewayClient{
		cfg:     cfg,
		network: network,
		address: address,
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()
	if err := c.dialLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// parseConnectionURL parses a gateway connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:5760"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// dialLocked connects and performs the open-bus handshake. Caller holds txMu.
func (c *GatewayClient) dialLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, c.network, c.address)
	if err != nil {
		return fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	if err := c.openBus(dialCtx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// openBus sends GatewayOpenBus and waits for the echo.
func (c *GatewayClient) openBus(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(EncodeGatewayMessage(GatewayOpenBus, []byte{c.cfg.Bus})); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	msgType, payload, err := readGatewayMessage(conn)
	if err != nil {
		return err
	}
	if msgType != GatewayOpenBus {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
	if len(payload) < 1 || payload[0] != c.cfg.Bus {
		return fmt.Errorf("gateway refused bus %d", c.cfg.Bus)
	}
	return nil
}

// Transmit sends one forward frame and waits for the gateway's reply.
//
// A no-answer reply is a normal outcome and returns ReplyNone without error.
// Transport failures close the connection and return ErrTransport.
func (c *GatewayClient) Transmit(ctx context.Context, f ForwardFrame) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	default:
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			c.errorsTotal.Add(1)
			return Reply{}, fmt.Errorf("%w: %w", ErrTransport, err)
		}
		c.reconnects.Add(1)
		c.logInfo("reconnected to DALI gateway", "address", c.address)
	}

	reply, err := c.roundTrip(ctx, f)
	if err != nil {
		c.errorsTotal.Add(1)
		c.dropConnLocked()
		return Reply{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return reply, nil
}

// roundTrip writes the request and reads the matching reply. Caller holds txMu.
func (c *GatewayClient) roundTrip(ctx context.Context, f ForwardFrame) (Reply, error) {
	deadline := time.Now().Add(c.cfg.ResponseTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Reply{}, fmt.Errorf("set deadline: %w", err)
	}

	var flags byte
	if f.SendTwice {
		flags |= flagSendTwice
	}
	if f.ExpectAnswer {
		flags |= flagExpectAnswer
	}
	msg := EncodeGatewayMessage(GatewayForward, []byte{c.cfg.Bus, flags, f.Address, f.Data})
	if _, err := c.conn.Write(msg); err != nil {
		return Reply{}, fmt.Errorf("write: %w", err)
	}
	c.framesTx.Add(1)

	for {
		msgType, payload, err := readGatewayMessage(c.conn)
		if err != nil {
			return Reply{}, err
		}
		if msgType != GatewayReply {
			// Unsolicited notifications (bus monitor traffic) are skipped.
			continue
		}
		if len(payload) < 2 {
			return Reply{}, fmt.Errorf("%w: reply too short (%d bytes)", ErrInvalidFrame, len(payload))
		}

		c.repliesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())

		reply := Reply{Status: ReplyStatus(payload[0]), Value: payload[1]}
		if reply.Status == ReplyBusError {
			return Reply{}, fmt.Errorf("gateway reported bus error (frame %s)", f)
		}
		if reply.Status > ReplyBusError {
			return Reply{}, fmt.Errorf("%w: unknown reply status %d", ErrInvalidFrame, reply.Status)
		}
		return reply, nil
	}
}

// readGatewayMessage reads one size-prefixed message.
func readGatewayMessage(r io.Reader) (uint16, []byte, error) {
	var sizeBytes [2]byte
	if _, err := io.ReadFull(r, sizeBytes[:]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	// Size field = type(2) + payload, not including itself.
	msgSize := binary.BigEndian.Uint16(sizeBytes[:])
	if msgSize < 2 || msgSize > maxGatewayMessage {
		return 0, nil, fmt.Errorf("%w: invalid message size %d", ErrInvalidFrame, msgSize)
	}

	buf := make([]byte, 2+int(msgSize))
	copy(buf[:2], sizeBytes[:])
	if _, err := io.ReadFull(r, buf[2:]); err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}

	return ParseGatewayMessage(buf)
}

// EncodeGatewayMessage wraps a payload in the gateway message format.
//
// Format:
//
//	Byte 0-1: Size of type + payload (big-endian, excludes the size field)
//	Byte 2-3: Message type (big-endian)
//	Byte 4+:  Payload
func EncodeGatewayMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, gatewayHeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small message sizes
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseGatewayMessage parses a complete raw gateway message.
func ParseGatewayMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < gatewayHeaderSize {
		return 0, nil, fmt.Errorf("%w: message too short (%d bytes)", ErrInvalidFrame, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, expected %d)",
			ErrInvalidFrame, declared, len(data)-2)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > gatewayHeaderSize {
		payload = data[gatewayHeaderSize:]
	}
	return msgType, payload, nil
}

// dropConnLocked closes the connection after a transport error. Caller holds txMu.
func (c *GatewayClient) dropConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

// Close closes the gateway connection. Safe to call multiple times.
func (c *GatewayClient) Close() error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	if err != nil {
		return fmt.Errorf("closing gateway connection: %w", err)
	}
	return nil
}

// IsConnected returns true if the last operation left the connection open.
func (c *GatewayClient) IsConnected() bool {
	return c.connected.Load()
}

// HealthCheck verifies the connection is alive.
//
// Note: This only checks connection state; it does not put traffic on the bus.
func (c *GatewayClient) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("dali health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *GatewayClient) Stats() GatewayStats {
	return GatewayStats{
		FramesTx:     c.framesTx.Load(),
		RepliesRx:    c.repliesRx.Load(),
		ErrorsTotal:  c.errorsTotal.Load(),
		Reconnects:   c.reconnects.Load(),
		LastActivity: time.Unix(c.lastActivity.Load(), 0),
		Connected:    c.IsConnected(),
	}
}

// SetLogger sets the logger for this client.
func (c *GatewayClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// logInfo logs an info message if logger is set.
func (c *GatewayClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}
