package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/geo"
	"github.com/xpanvictor/tabletalk/internal/menu"
	"github.com/xpanvictor/tabletalk/internal/search"
	"github.com/xpanvictor/tabletalk/internal/voice"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (c *fakeCompleter) Complete(ctx context.Context, history []chatlog.Message, userText string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.reply, c.err
}

func (c *fakeCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeSearcher struct {
	mu       sync.Mutex
	queries  []string
	location string
	result   search.Result
}

func (s *fakeSearcher) Augment(ctx context.Context, text string) search.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, text)
	return s.result
}

func (s *fakeSearcher) SetLocation(loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = loc
}

func (s *fakeSearcher) seenQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.queries))
	copy(out, s.queries)
	return out
}

type fakeVision struct {
	description string
	menuData    menu.Data
	menuErr     error
}

func (v *fakeVision) Describe(ctx context.Context, image []byte) string {
	return v.description
}

func (v *fakeVision) ExtractMenu(ctx context.Context, image []byte) (menu.Data, error) {
	if v.menuErr != nil {
		return menu.Data{}, v.menuErr
	}
	return v.menuData, nil
}

type fakeGeo struct {
	place geo.Place
	err   error
}

func (g *fakeGeo) Reverse(ctx context.Context, lat, lng float64) (geo.Place, error) {
	if g.err != nil {
		return geo.Place{}, g.err
	}
	return g.place, nil
}

type fakeGenerator struct {
	mu     sync.Mutex
	output string
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(ctx context.Context, items []menu.Item, notes string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.output, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Minimal in-memory signaling stack so the controller can reach the
// connected state without a device.

type fakeTrack struct{}

func (fakeTrack) ID() string   { return "mic0" }
func (fakeTrack) Kind() string { return "audio" }
func (fakeTrack) Stop()        {}

type fakeStream struct{}

func (fakeStream) AudioTracks() []voice.MediaTrack { return []voice.MediaTrack{fakeTrack{}} }
func (fakeStream) Stop()                           {}

type fakeChannel struct {
	mu     sync.Mutex
	state  voice.ChannelState
	sent   []string
	onOpen func()
}

func (ch *fakeChannel) Send(text string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.sent = append(ch.sent, text)
	return nil
}

func (ch *fakeChannel) ReadyState() voice.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) OnOpen(fn func())          { ch.onOpen = fn }
func (ch *fakeChannel) OnMessage(fn func([]byte)) {}
func (ch *fakeChannel) OnError(fn func(error))    {}
func (ch *fakeChannel) OnClose(fn func())         {}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.state = voice.ChannelClosed
	return nil
}

func (ch *fakeChannel) open() {
	ch.mu.Lock()
	ch.state = voice.ChannelOpen
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *fakeChannel) sentMessages() []string {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]string, len(ch.sent))
	copy(out, ch.sent)
	return out
}

type fakePeer struct {
	channel *fakeChannel
}

func (p *fakePeer) AddTrack(track voice.MediaTrack) error   { return nil }
func (p *fakePeer) OnRemoteTrack(fn func(voice.MediaTrack)) {}
func (p *fakePeer) SetLocalDescription(sdp string) error    { return nil }
func (p *fakePeer) SetRemoteDescription(sdp string) error   { return nil }
func (p *fakePeer) Close() error                            { return nil }
func (p *fakePeer) CreateDataChannel(label string) (voice.DataChannel, error) {
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(constraints voice.OfferConstraints) (string, error) {
	return "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n", nil
}

type fakeSignaler struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (s *fakeSignaler) CreatePeerConnection(cfg voice.ICEConfig) (voice.PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &fakePeer{channel: &fakeChannel{state: voice.ChannelConnecting}}
	s.peers = append(s.peers, p)
	return p, nil
}

func (s *fakeSignaler) GetLocalAudioStream() (voice.MediaStream, error) {
	return fakeStream{}, nil
}

func (s *fakeSignaler) lastChannel() *fakeChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.peers) == 0 {
		return nil
	}
	return s.peers[len(s.peers)-1].channel
}

type fakePerms struct{}

func (fakePerms) RequestMicrophone() (bool, error) { return true, nil }

type fakeAudio struct{}

func (fakeAudio) StartSpeakerphone() error { return nil }
func (fakeAudio) Stop() error              { return nil }

var errFakeMenu = errors.New("blurry photo")

func rawPayload(s string) json.RawMessage { return json.RawMessage(s) }
