package dalitest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
)

// Gateway serves the gateway wire protocol on a loopback listener and
// applies every forward frame to a SimBus. It lets code that only knows a
// connection URL (the CLI, the serve command) run against simulated gear.
type Gateway struct {
	bus      *SimBus
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewGateway starts a gateway on 127.0.0.1 with a random port.
func NewGateway(bus *SimBus) (*Gateway, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	g := &Gateway{bus: bus, listener: ln, conns: make(map[net.Conn]struct{})}
	g.wg.Add(1)
	go g.acceptLoop()
	return g, nil
}

// URL returns the connection URL for dali.GatewayConfig.
func (g *Gateway) URL() string {
	return "tcp://" + g.listener.Addr().String()
}

// Close stops the listener and drops every client connection.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	err := g.listener.Close()
	for c := range g.conns {
		c.Close()
	}
	g.mu.Unlock()

	g.wg.Wait()
	return err
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			return
		}
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			conn.Close()
			return
		}
		g.conns[conn] = struct{}{}
		g.mu.Unlock()

		g.wg.Add(1)
		go g.serve(conn)
	}
}

func (g *Gateway) serve(conn net.Conn) {
	defer g.wg.Done()
	defer func() {
		g.mu.Lock()
		delete(g.conns, conn)
		g.mu.Unlock()
		conn.Close()
	}()

	for {
		msgType, payload, err := readMessage(conn)
		if err != nil {
			return
		}

		var out []byte
		switch msgType {
		case dali.GatewayOpenBus:
			out = dali.EncodeGatewayMessage(dali.GatewayOpenBus, payload)
		case dali.GatewayForward:
			if len(payload) < 4 {
				return
			}
			reply := g.forward(payload)
			out = dali.EncodeGatewayMessage(dali.GatewayReply, []byte{byte(reply.Status), reply.Value})
		default:
			continue
		}
		if _, err := conn.Write(out); err != nil {
			return
		}
	}
}

// forward decodes bus(1) + flags(1) + address(1) + data(1) and applies the
// frame. Injected faults surface as a bus error reply.
func (g *Gateway) forward(payload []byte) dali.Reply {
	f := dali.ForwardFrame{
		Address:      payload[2],
		Data:         payload[3],
		SendTwice:    payload[1]&0x01 != 0,
		ExpectAnswer: payload[1]&0x02 != 0,
	}
	reply, err := g.bus.Transmit(context.Background(), f)
	if err != nil {
		return dali.Reply{Status: dali.ReplyBusError}
	}
	return reply
}

func readMessage(r io.Reader) (uint16, []byte, error) {
	var size [2]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint16(size[:])
	if n < 2 {
		return 0, nil, errors.New("short message")
	}
	buf := make([]byte, 2+int(n))
	copy(buf, size[:])
	if _, err := io.ReadFull(r, buf[2:]); err != nil {
		return 0, nil, err
	}
	return dali.ParseGatewayMessage(buf)
}
