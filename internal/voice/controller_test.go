package voice

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// newProviderServer serves the two provider endpoints. gate, when non-nil, is
// received from inside the SDP exchange handler so tests can hold a connect
// attempt mid-flight.
func newProviderServer(t *testing.T, gate chan struct{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/realtime/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]string{"value": "ephemeral-secret"},
		})
	})
	mux.HandleFunc("/realtime", func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			<-gate
		}
		if r.Header.Get("Authorization") != "Bearer ephemeral-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		offer, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(offer), "m=audio") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=answer\r\n")
	})
	return httptest.NewServer(mux)
}

type testRig struct {
	ctrl     *Controller
	signaler *fakeSignaler
	perms    *fakePerms
	audio    *fakeAudio
	log      *chatlog.ChatLog
}

func newTestRig(t *testing.T, baseURL string) *testRig {
	t.Helper()
	cfg := config.RealtimeConfig{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-realtime",
		Voice:   "verse",
		STUNURL: "stun:stun.example.org:3478",
	}
	rig := &testRig{
		signaler: newFakeSignaler(),
		perms:    &fakePerms{granted: true},
		audio:    &fakeAudio{},
		log:      chatlog.New(),
	}
	rig.ctrl = NewController(ControllerOpts{
		Config:       cfg,
		Provider:     NewProviderClient(cfg),
		Signaler:     rig.signaler,
		Permissions:  rig.perms,
		AudioRouter:  rig.audio,
		ChatLog:      rig.log,
		Logger:       Logger.New(true),
		Instructions: "test instructions",
	})
	return rig
}

func TestConnectReachesConnected(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	rig.ctrl.Connect(context.Background())

	if got := rig.ctrl.Status(); got != StatusConnected {
		t.Fatalf("expected connected, got %s", got)
	}
	if rig.signaler.peerCount() != 1 {
		t.Errorf("expected exactly one peer connection, got %d", rig.signaler.peerCount())
	}
	peer := rig.signaler.peers[0]
	if peer.remote == "" {
		t.Error("remote description was never set")
	}
	if !strings.Contains(peer.localSDP, "m=audio") {
		t.Error("local description missing audio section")
	}
}

func TestConnectIsNoOpWhileBusy(t *testing.T) {
	gate := make(chan struct{})
	srv := newProviderServer(t, gate)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rig.ctrl.Connect(context.Background())
	}()

	// Wait until the first attempt is held inside the SDP exchange.
	deadline := time.Now().Add(2 * time.Second)
	for rig.ctrl.Status() != StatusConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rig.ctrl.Status() != StatusConnecting {
		t.Fatal("first connect never reached connecting")
	}

	// Second call while connecting must be a no-op.
	rig.ctrl.Connect(context.Background())

	close(gate)
	wg.Wait()

	if rig.signaler.peerCount() != 1 {
		t.Errorf("second connect created a peer connection; count=%d", rig.signaler.peerCount())
	}
	if got := rig.ctrl.Status(); got != StatusConnected {
		t.Errorf("expected connected after first attempt, got %s", got)
	}

	// And a third call while connected is also a no-op.
	rig.ctrl.Connect(context.Background())
	if rig.signaler.peerCount() != 1 {
		t.Errorf("connect while connected created a peer connection; count=%d", rig.signaler.peerCount())
	}
}

func TestPermissionDeniedRevertsToIdle(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)
	rig.perms.granted = false

	rig.ctrl.Connect(context.Background())

	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("expected idle after denial, got %s", got)
	}
	if rig.signaler.peerCount() != 0 {
		t.Errorf("no peer connection should exist after denial, got %d", rig.signaler.peerCount())
	}
	failures := 0
	for _, m := range rig.log.Messages() {
		if !m.FromUser {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly one failure message, got %d", failures)
	}
}

func TestEmptyAudioStreamIsFatal(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)
	rig.signaler.stream = &fakeStream{} // zero tracks

	rig.ctrl.Connect(context.Background())

	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("expected idle after empty stream, got %s", got)
	}
}

func TestStreamFetchFailureRevertsToIdle(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)
	rig.signaler.streamErr = errFakeStream

	rig.ctrl.Connect(context.Background())

	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("expected idle after stream failure, got %s", got)
	}
	if rig.log.Len() != 1 {
		t.Errorf("expected exactly one failure message, got %d", rig.log.Len())
	}
}

func TestDisconnectWhileIdleIsQuietNoOp(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	rig.ctrl.Disconnect() // must not panic
	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("expected idle, got %s", got)
	}
	if rig.log.Len() != 0 {
		t.Errorf("idle disconnect should not produce chat messages, got %d", rig.log.Len())
	}
}

func TestDisconnectDuringConnectWins(t *testing.T) {
	gate := make(chan struct{})
	srv := newProviderServer(t, gate)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rig.ctrl.Connect(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rig.ctrl.Status() != StatusConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rig.ctrl.Disconnect()
	close(gate)
	wg.Wait()

	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("stale connect resurrected a torn-down session: status %s", got)
	}
	if !rig.signaler.peers[0].closed {
		t.Error("peer connection left open after disconnect")
	}
}

func TestDialFailureAfterDisconnectStaysSilent(t *testing.T) {
	gate := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/realtime/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"client_secret": map[string]string{"value": "ephemeral-secret"},
		})
	})
	mux.HandleFunc("/realtime", func(w http.ResponseWriter, r *http.Request) {
		<-gate
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rig.ctrl.Connect(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for rig.ctrl.Status() != StatusConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rig.ctrl.Status() != StatusConnecting {
		t.Fatal("connect never reached connecting")
	}

	// The user hangs up while the SDP exchange is in flight, then the
	// exchange itself fails. The superseded attempt must not surface a
	// failure message for a session the user already ended.
	rig.ctrl.Disconnect()
	close(gate)
	wg.Wait()

	if got := rig.ctrl.Status(); got != StatusIdle {
		t.Errorf("expected idle, got %s", got)
	}
	if rig.log.Len() != 0 {
		t.Errorf("superseded dial failure appended chat messages: %v", rig.log.Messages())
	}
}

func TestSessionConfigSentOnChannelOpen(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	rig.ctrl.Connect(context.Background())
	ch := rig.signaler.peers[0].channel
	ch.open()

	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("expected one config message on open, got %d", len(sent))
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(sent[0]), &ev); err != nil {
		t.Fatalf("config message is not JSON: %v", err)
	}
	if ev["type"] != "session.update" {
		t.Errorf("expected session.update, got %v", ev["type"])
	}
	session, _ := ev["session"].(map[string]any)
	if session["instructions"] != "test instructions" {
		t.Errorf("instructions not carried: %v", session["instructions"])
	}
	if session["voice"] != "verse" {
		t.Errorf("voice identity not carried: %v", session["voice"])
	}
}

func TestSendUserTextTwoMessageProtocol(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	if rig.ctrl.SendUserText("hello", []string{"audio"}, "") {
		t.Error("send should fail before connect")
	}

	rig.ctrl.Connect(context.Background())
	ch := rig.signaler.peers[0].channel
	ch.open()

	if !rig.ctrl.SendUserText("hello there", []string{"text", "audio"}, "") {
		t.Fatal("send failed on open channel")
	}

	sent := ch.sentMessages()
	// session.update + item + response request
	if len(sent) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(sent))
	}
	var item, resp map[string]any
	json.Unmarshal([]byte(sent[1]), &item)
	json.Unmarshal([]byte(sent[2]), &resp)
	if item["type"] != "conversation.item.create" {
		t.Errorf("first send should create the conversation item, got %v", item["type"])
	}
	if resp["type"] != "response.create" {
		t.Errorf("second send should request the response, got %v", resp["type"])
	}
}

func TestSendUserTextFailsOnClosedChannel(t *testing.T) {
	srv := newProviderServer(t, nil)
	defer srv.Close()
	rig := newTestRig(t, srv.URL)

	rig.ctrl.Connect(context.Background())
	// channel never opened: readyState stays connecting
	if rig.ctrl.SendUserText("hi", []string{"audio"}, "") {
		t.Error("send should report failure while channel not open")
	}
}
