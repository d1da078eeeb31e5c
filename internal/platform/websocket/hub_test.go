package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/platform/db"
)

func newClient(id string, buffer int, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, buffer)}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c1", 4, "alerts:icu")

	hub.Register(c)
	if hub.ClientCount() != 1 || hub.TopicCount("alerts:icu") != 1 {
		t.Fatalf("unexpected counts: clients=%d topic=%d", hub.ClientCount(), hub.TopicCount("alerts:icu"))
	}

	hub.Unregister(c)
	hub.Unregister(c)
	if hub.ClientCount() != 0 || hub.TopicCount("alerts:icu") != 0 {
		t.Fatal("expected client removed")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected Send closed")
	}
}

func TestHub_PublishToSubscribersOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	icu := newClient("icu", 4, "alerts:icu")
	ward := newClient("ward", 4, "alerts:ward")
	hub.Register(icu)
	hub.Register(ward)

	if err := hub.Publish(context.Background(), "alerts:icu", "alerts.changed", map[string]int{"count": 2}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-icu.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Type != "alerts.changed" || ev.Topic != "alerts:icu" {
			t.Errorf("unexpected event: %+v", ev)
		}
		if string(ev.Data) != `{"count":2}` {
			t.Errorf("unexpected data: %s", ev.Data)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-ward.Send:
		t.Fatal("other tenant must not receive event")
	default:
	}
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("slow", 1, "alerts")
	hub.Register(c)

	for i := 0; i < 3; i++ {
		if err := hub.Publish(context.Background(), "alerts", "alerts.changed", i); err != nil {
			t.Fatal(err)
		}
	}
	if hub.Dropped() != 2 {
		t.Errorf("expected 2 dropped, got %d", hub.Dropped())
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", 4, "alerts")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"alerts:icu", "alerts"}})
	if len(c.Topics) != 2 {
		t.Errorf("expected duplicate topic ignored, got %v", c.Topics)
	}
	if hub.TopicCount("alerts:icu") != 1 {
		t.Error("expected subscription to alerts:icu")
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"alerts"}})
	if hub.TopicCount("alerts") != 0 || len(c.Topics) != 1 || c.Topics[0] != "alerts:icu" {
		t.Errorf("unexpected state after unsubscribe: %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "noop", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("unknown action must be ignored")
	}
}

func tenantOnly(tenant string) func(string) bool {
	return func(topic string) bool { return topic == "alerts:"+tenant }
}

func TestHub_SubscribeOutsideAllowedTopicsDropped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a := newClient("tenant-a", 8, "alerts:tenantA")
	a.Allow = tenantOnly("tenantA")
	hub.Register(a)

	hub.ProcessMessage(a, ClientMessage{Action: "subscribe", Topics: []string{"alerts:tenantB", "alerts"}})
	if hub.TopicCount("alerts:tenantB") != 0 || hub.TopicCount("alerts") != 0 {
		t.Fatalf("foreign subscriptions accepted: %v", a.Topics)
	}

	for _, topic := range []string{"alerts:tenantB", "alerts"} {
		if err := hub.Publish(context.Background(), topic, "alerts.changed", map[string]string{"tenant": "tenantB"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(a.Send); n != 0 {
		t.Errorf("tenantA client received %d foreign events", n)
	}

	if err := hub.Publish(context.Background(), "alerts:tenantA", "alerts.changed", nil); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Send); n != 1 {
		t.Errorf("expected own tenant event delivered, got %d", n)
	}
}

func TestHub_RegisterFiltersInitialTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", 4, "alerts:icu", "alerts:ward")
	c.Allow = tenantOnly("icu")
	hub.Register(c)
	if hub.TopicCount("alerts:ward") != 0 || len(c.Topics) != 1 {
		t.Errorf("unexpected topics %v", c.Topics)
	}
}

func TestHub_ConcurrentPublishAndRegister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", 8, "alerts")
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			_ = hub.Publish(context.Background(), "alerts", "alerts.changed", nil)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHandler_ConnectRequiresUpgrade(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil, nil)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())
	if err := h.HandleConnect(c); err == nil {
		t.Error("expected error for plain HTTP request")
	}
}

func TestHandler_FullUpgrade(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	topics := func(tenant string) []string { return []string{"alerts:" + tenant} }
	authorize := func(tenant string, _ []string, topic string) bool { return topic == "alerts:"+tenant }
	h := NewHandler(hub, topics, authorize)

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(db.WithTenant(c.Request().Context(), "icu")))
			return next(c)
		}
	})
	h.RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	waitFor(t, func() bool { return hub.TopicCount("alerts:icu") == 1 })

	if err := hub.Publish(context.Background(), "alerts:icu", "alerts.changed", []string{"a"}); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if ev.Topic != "alerts:icu" {
		t.Errorf("unexpected topic %s", ev.Topic)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "unsubscribe", Topics: []string{"alerts:icu"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.TopicCount("alerts:icu") == 0 })

	// One message: the allowed topic is applied, the others are dropped.
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"alerts:ward", "alerts", "alerts:icu"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.TopicCount("alerts:icu") == 1 })
	if hub.TopicCount("alerts") != 0 || hub.TopicCount("alerts:ward") != 0 {
		t.Error("expected foreign topics denied")
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
