package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-dali/internal/auth"
	"github.com/nerrad567/gray-logic-dali/internal/bridges/dali"
	"github.com/nerrad567/gray-logic-dali/internal/commissioning"
)

// dialWS obtains a ticket and opens a WebSocket against a live test server.
func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, auth.RoleViewer))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ticket request: %v", err)
	}
	defer resp.Body.Close()

	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decoding ticket: %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func startLive(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := testServer(t, Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return srv, ts
}

func TestWebSocket_CommissioningEvents(t *testing.T) {
	srv, ts := startLive(t)
	conn := dialWS(t, ts)

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelCommissioning}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ack := readMessage(t, conn); ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	random := dali.RandomAddress(0x00ABCD)
	short := dali.ShortAddress(4)
	srv.Hub().Emit(commissioning.Event{
		Type:   commissioning.EventAddressAssigned,
		RunID:  "r1",
		Phase:  commissioning.PhaseAllocating,
		Random: &random,
		Short:  &short,
	})

	msg := readMessage(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelCommissioning {
		t.Fatalf("msg = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T", msg.Payload)
	}
	if payload["type"] != "address_assigned" || payload["random_address"] != "0x00ABCD" || payload["short_address"] != float64(4) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_RejectsUnknownChannel(t *testing.T) {
	_, ts := startLive(t)
	conn := dialWS(t, ts)

	err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypeError {
		t.Errorf("msg = %+v, want error", msg)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, ts := startLive(t)
	conn := dialWS(t, ts)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	srv := testServer(t, Deps{})

	if w := do(t, srv, http.MethodGet, "/api/v1/ws", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no ticket status = %d, want 401", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/ws?ticket=bogus", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("bad ticket status = %d, want 401", w.Code)
	}
}

func TestTicketStore(t *testing.T) {
	ts := newTicketStore()

	ticket := ts.issue("tester", auth.RoleInstaller)
	entry, ok := ts.consume(ticket)
	if !ok || entry.subject != "tester" || entry.role != auth.RoleInstaller {
		t.Fatalf("consume = %+v, %v", entry, ok)
	}
	if _, ok := ts.consume(ticket); ok {
		t.Error("tickets must be single-use")
	}

	expired := ts.issue("tester", auth.RoleViewer)
	ts.mu.Lock()
	e := ts.tickets[expired]
	e.expiresAt = time.Now().Add(-time.Second)
	ts.tickets[expired] = e
	ts.mu.Unlock()

	ts.cleanExpired()
	if _, ok := ts.consume(expired); ok {
		t.Error("expired ticket should be rejected")
	}
}

func TestHub_EmitWithoutClients(t *testing.T) {
	srv := testServer(t, Deps{})
	srv.Hub().Emit(commissioning.Event{Type: commissioning.EventRunFinished})
	if srv.Hub().ClientCount() != 0 {
		t.Error("hub should have no clients")
	}
}
