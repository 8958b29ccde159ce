package sources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/larung/pkg/errorsx"
	"github.com/harunnryd/larung/pkg/media"
	"github.com/harunnryd/larung/pkg/resilience"
)

func TestWSSourceStreamsBinaryMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotResume string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotResume = r.URL.Query().Get("resume_after")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("abc"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("ignore me"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("def"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	src := NewWSSource(WSConfig{}, nil)
	rc, err := src.Open(context.Background(), wsURL, media.FragmentMarker("42"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != "abcdef" {
		t.Fatalf("expected binary payload abcdef, got %q", data)
	}
	if gotResume != "42" {
		t.Fatalf("expected resume_after=42, got %q", gotResume)
	}
}

func TestWSSourceOpenFailsForUnreachablePeer(t *testing.T) {
	src := NewWSSource(WSConfig{HandshakeTimeout: 200 * time.Millisecond}, nil)
	_, err := src.Open(context.Background(), "ws://127.0.0.1:1/stream", media.MarkerZero)
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSourceOpen) {
		t.Fatalf("expected reason %s, got %v", errorsx.ReasonSourceOpen, err)
	}
}

type scriptedLookup struct {
	mu    sync.Mutex
	calls int
	steps []map[media.Role]string
	err   error
}

func (l *scriptedLookup) Query(_ context.Context, _ string) (map[media.Role]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	idx := l.calls
	if idx >= len(l.steps) {
		idx = len(l.steps) - 1
	}
	l.calls++
	return l.steps[idx], nil
}

func TestPollerWaitsForSecondRegistration(t *testing.T) {
	lookup := &scriptedLookup{steps: []map[media.Role]string{
		{media.RoleCaller: "ws://a"},
		{media.RoleCaller: "ws://a"},
		{media.RoleCaller: "ws://a", media.RoleAgent: "ws://b"},
	}}
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond, Timeout: time.Second}, lookup, nil)

	refs, err := p.WaitForChannels(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 || refs[media.RoleAgent] != "ws://b" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestPollerReturnsPartialOnTimeout(t *testing.T) {
	lookup := &scriptedLookup{steps: []map[media.Role]string{
		{media.RoleCaller: "ws://a"},
	}}
	p := NewPoller(PollerConfig{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, lookup, nil)

	refs, err := p.WaitForChannels(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("partial registration should not error, got %v", err)
	}
	if len(refs) != 1 || refs[media.RoleCaller] != "ws://a" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestPollerFailsWhenNothingRegisters(t *testing.T) {
	lookup := &scriptedLookup{err: errors.New("store down")}
	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Timeout:  30 * time.Millisecond,
		Retry:    resilience.RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond},
	}, lookup, nil)

	_, err := p.WaitForChannels(context.Background(), "call-1")
	if err == nil {
		t.Fatal("expected error when no sources register")
	}
	if !errorsx.HasReason(err, errorsx.ReasonSourceLookup) {
		t.Fatalf("expected reason %s, got %v", errorsx.ReasonSourceLookup, err)
	}
}

func TestHookVetoAndOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"callId":"renamed-1","swapRoles":true,"shouldProcess":false}`))
	}))
	defer srv.Close()

	h := NewHook(HookConfig{URL: srv.URL}, nil)
	resp, err := h.Invoke(context.Background(), HookRequest{CallID: "call-1", WorkUnit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Veto() {
		t.Fatal("expected veto")
	}
	if resp.CallID != "renamed-1" || !resp.SwapRoles {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHookDefaultsToProcessing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	h := NewHook(HookConfig{URL: srv.URL}, nil)
	resp, err := h.Invoke(context.Background(), HookRequest{CallID: "call-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Veto() {
		t.Fatal("empty response must not veto")
	}
}

func TestHookErrorCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHook(HookConfig{URL: srv.URL, Required: true}, nil)
	_, err := h.Invoke(context.Background(), HookRequest{CallID: "call-1"})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !errorsx.HasReason(err, errorsx.ReasonHookCall) {
		t.Fatalf("expected reason %s, got %v", errorsx.ReasonHookCall, err)
	}
}

func TestHTTPLookupParsesChannels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("call_id"); got != "call-1" {
			t.Errorf("expected call_id=call-1, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"channels":{"caller":"ws://a","agent":"ws://b","bogus":"ws://c"}}`))
	}))
	defer srv.Close()

	l := NewHTTPLookup(HTTPLookupConfig{URL: srv.URL})
	refs, err := l.Query(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 || refs[media.RoleCaller] != "ws://a" || refs[media.RoleAgent] != "ws://b" {
		t.Fatalf("unexpected refs: %v", refs)
	}
}

func TestHTTPLookupTreatsNotFoundAsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewHTTPLookup(HTTPLookupConfig{URL: srv.URL})
	refs, err := l.Query(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("404 must not be an error, got %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no refs, got %v", refs)
	}
}

type stubFetcher struct {
	from, to string
	err      error
}

func (s *stubFetcher) FetchCall(_ string, _ *api.FetchCallParams) (*api.ApiV2010Call, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{From: &s.from, To: &s.to}, nil
}

func TestTwilioPartyLookup(t *testing.T) {
	l := NewTwilioPartyLookup(TwilioConfig{AccountSID: "AC1", AuthToken: "tok"}, nil)
	l.client = &stubFetcher{from: "+100", to: "+200"}

	from, to, err := l.Parties(context.Background(), "CA123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if from != "+100" || to != "+200" {
		t.Fatalf("unexpected parties %q %q", from, to)
	}
}

func TestTwilioPartyLookupRequiresCredentials(t *testing.T) {
	l := NewTwilioPartyLookup(TwilioConfig{}, nil)
	if _, _, err := l.Parties(context.Background(), "CA123"); err == nil {
		t.Fatal("expected error without credentials")
	}
}
