package voice

import (
	"errors"
	"sync"
)

// In-memory implementations of the signaling collaborator interfaces.

type fakeTrack struct {
	id      string
	kind    string
	stopped bool
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop()        { t.stopped = true }

type fakeStream struct {
	tracks  []MediaTrack
	stopped bool
}

func (s *fakeStream) AudioTracks() []MediaTrack { return s.tracks }
func (s *fakeStream) Stop()                     { s.stopped = true }

type fakeChannel struct {
	mu        sync.Mutex
	state     ChannelState
	sent      []string
	onOpen    func()
	onMessage func([]byte)
	sendErr   error
	closed    bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{state: ChannelConnecting}
}

func (ch *fakeChannel) Send(text string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.sendErr != nil {
		return ch.sendErr
	}
	ch.sent = append(ch.sent, text)
	return nil
}

func (ch *fakeChannel) ReadyState() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *fakeChannel) OnOpen(fn func())           { ch.onOpen = fn }
func (ch *fakeChannel) OnMessage(fn func([]byte))  { ch.onMessage = fn }
func (ch *fakeChannel) OnError(fn func(err error)) {}
func (ch *fakeChannel) OnClose(fn func())          {}

func (ch *fakeChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	ch.state = ChannelClosed
	return nil
}

// open simulates the channel becoming ready on the wire.
func (ch *fakeChannel) open() {
	ch.mu.Lock()
	ch.state = ChannelOpen
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
	tracks   []MediaTrack
	channel  *fakeChannel
	offer    string
	localSDP string
	remote   string
	closed   bool
	offerErr error
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		channel: newFakeChannel(),
		offer:   "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n",
	}
}

func (p *fakePeer) AddTrack(track MediaTrack) error {
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) OnRemoteTrack(fn func(track MediaTrack)) {}

func (p *fakePeer) CreateDataChannel(label string) (DataChannel, error) {
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(constraints OfferConstraints) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return p.offer, nil
}

func (p *fakePeer) SetLocalDescription(sdp string) error {
	p.localSDP = sdp
	return nil
}

func (p *fakePeer) SetRemoteDescription(sdp string) error {
	p.remote = sdp
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeSignaler struct {
	mu          sync.Mutex
	peers       []*fakePeer
	stream      *fakeStream
	streamErr   error
	peerErr     error
	onNewPeer   func(*fakePeer)
	streamCalls int
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		stream: &fakeStream{tracks: []MediaTrack{&fakeTrack{id: "mic0", kind: "audio"}}},
	}
}

func (s *fakeSignaler) CreatePeerConnection(cfg ICEConfig) (PeerConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerErr != nil {
		return nil, s.peerErr
	}
	p := newFakePeer()
	s.peers = append(s.peers, p)
	if s.onNewPeer != nil {
		s.onNewPeer(p)
	}
	return p, nil
}

func (s *fakeSignaler) GetLocalAudioStream() (MediaStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamCalls++
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	return s.stream, nil
}

func (s *fakeSignaler) peerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

type fakePerms struct {
	granted bool
	err     error
	calls   int
}

func (p *fakePerms) RequestMicrophone() (bool, error) {
	p.calls++
	return p.granted, p.err
}

type fakeAudio struct {
	speakerOn bool
	stopped   bool
}

func (a *fakeAudio) StartSpeakerphone() error {
	a.speakerOn = true
	return nil
}

func (a *fakeAudio) Stop() error {
	a.stopped = true
	return nil
}

var errFakeStream = errors.New("no capture device")
