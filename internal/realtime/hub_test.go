package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/memstore"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/occupancy"
)

func TestHubBroadcastOnlyToChannel(t *testing.T) {
	h := NewHub(logger.NewNop())
	a := h.NewClient("a")
	b := h.NewClient("b")
	h.Subscribe(a, ScopeChannel("hall"))
	h.Subscribe(b, ScopeChannel("room"))

	h.Broadcast(Message{Channel: ScopeChannel("hall"), Event: EventOccupancyChanged, Data: 1})

	select {
	case msg := <-a.Outbound:
		if msg.Event != EventOccupancyChanged {
			t.Fatalf("event: %v", msg.Event)
		}
	default:
		t.Fatalf("subscriber did not receive message")
	}
	select {
	case msg := <-b.Outbound:
		t.Fatalf("other channel received %+v", msg)
	default:
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	h := NewHub(logger.NewNop())
	c := h.NewClient("slow")
	h.Subscribe(c, "x")
	for i := 0; i < cap(c.Outbound)+5; i++ {
		h.Broadcast(Message{Channel: "x", Event: EventScanRecorded})
	}
	if len(c.Outbound) != cap(c.Outbound) {
		t.Fatalf("buffer: want=%d got=%d", cap(c.Outbound), len(c.Outbound))
	}
}

func TestHubCloseUnsubscribes(t *testing.T) {
	h := NewHub(logger.NewNop())
	c := h.NewClient("a")
	h.Subscribe(c, "x")
	h.Subscribe(c, "y")
	h.Close(c)
	h.Close(c)
	if h.Subscribers("x") != 0 || h.Subscribers("y") != 0 {
		t.Fatalf("client still subscribed")
	}
}

func TestServeWritesEvents(t *testing.T) {
	h := NewHub(logger.NewNop())
	c := h.NewClient("a")
	h.Subscribe(c, "x")
	c.Outbound <- Message{Channel: "x", Event: EventOccupancyChanged, Data: map[string]int{"inside": 3}}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Serve(rec, req, c)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: OccupancyChanged") || !strings.Contains(body, `"inside":3`) {
		t.Fatalf("body: %q", body)
	}
}

func TestScanSinkPublishesOccupancy(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	capacity := 10
	scope := model.Scope{ID: "hall", Kind: model.ScopeEvent, EventID: "hall", MaxCapacity: &capacity}
	_ = store.PutScope(ctx, scope)

	counters := occupancy.NewMemoryCounters()
	_ = counters.Replace(ctx, "hall", occupancy.Counters{Inside: 4})
	occ := occupancy.New(counters, time.Hour, logger.NewNop())

	h := NewHub(logger.NewNop())
	c := h.NewClient("dash")
	h.Subscribe(c, ScopeChannel("hall"))
	sink := NewScanSink(NewLocalBus(h), occ, store, logger.NewNop())

	sink.Observe(ctx, model.ScanEvent{ID: "s1", ScopeID: "hall", Resolved: model.ResolvedNoOp})
	if len(c.Outbound) != 1 {
		t.Fatalf("no-op scan: want 1 message got %d", len(c.Outbound))
	}
	<-c.Outbound

	sink.Observe(ctx, model.ScanEvent{ID: "s2", ScopeID: "hall", Resolved: model.ResolvedCheckIn})
	if len(c.Outbound) != 2 {
		t.Fatalf("check-in: want 2 messages got %d", len(c.Outbound))
	}
	<-c.Outbound
	msg := <-c.Outbound
	snap, ok := msg.Data.(model.Occupancy)
	if msg.Event != EventOccupancyChanged || !ok || snap.CurrentlyInside != 4 {
		t.Fatalf("occupancy message: %+v", msg)
	}
}
