package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xpanvictor/tabletalk/internal/voice"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// The device owns the actual peer connection, microphone, and speaker; the
// bridge drives them remotely over the websocket with small JSON ops. Ops
// that need an answer carry a call id the device echoes back.

const callTimeout = 10 * time.Second

// Envelope is the wire frame in both directions.
type Envelope struct {
	Op     string          `json:"op"`
	CallID string          `json:"callId,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Ops the server sends to the device.
const (
	opPermissionMic    = "permission.microphone"
	opMediaCapture     = "media.capture_audio"
	opMediaStop        = "media.stop"
	opPeerCreate       = "peer.create"
	opPeerAddTrack     = "peer.add_track"
	opPeerCreateOffer  = "peer.create_offer"
	opPeerSetLocal     = "peer.set_local"
	opPeerSetRemote    = "peer.set_remote"
	opPeerClose        = "peer.close"
	opChannelCreate    = "channel.create"
	opChannelSend      = "channel.send"
	opAudioSpeaker     = "audio.speakerphone"
	opChatMessage      = "chat.message"
	opChatCleared      = "chat.cleared"
	opChatExported     = "chat.exported"
	opVoiceStatus      = "voice.status"
	opMenuExtracted    = "menu.extracted"
	opAttachmentPicker = "picker.open"
	opError            = "error"
)

// Ops the device sends to the server (besides call replies).
const (
	opChannelOpen     = "channel.open"
	opChannelMessage  = "channel.message"
	opChannelState    = "channel.state"
	opPeerRemoteTrack = "peer.remote_track"
)

var errBridgeClosed = errors.New("device bridge closed")

// deviceBridge multiplexes calls and events over one websocket connection.
// It implements the voice signaling collaborators.
type deviceBridge struct {
	conn   *websocket.Conn
	logger *Logger.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[string]chan json.RawMessage
	channel       *bridgeChannel
	onRemoteTrack func(track voice.MediaTrack)
	closed        bool
}

func newDeviceBridge(conn *websocket.Conn, logger *Logger.Logger) *deviceBridge {
	return &deviceBridge{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan json.RawMessage),
	}
}

func (b *deviceBridge) write(env Envelope) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(env)
}

// send fires an op without waiting for a reply.
func (b *deviceBridge) send(op string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return b.write(Envelope{Op: op, Body: raw})
}

// call sends an op and blocks until the device echoes the call id back.
func (b *deviceBridge) call(op string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	reply := make(chan json.RawMessage, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBridgeClosed
	}
	b.pending[id] = reply
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	if err := b.write(Envelope{Op: op, CallID: id, Body: raw}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-time.After(callTimeout):
		return nil, fmt.Errorf("device did not answer %s", op)
	}
}

// dispatch routes one inbound frame; returns false when the frame was not a
// bridge frame and belongs to the session handler.
func (b *deviceBridge) dispatch(env Envelope) bool {
	if env.CallID != "" {
		b.mu.Lock()
		reply, ok := b.pending[env.CallID]
		b.mu.Unlock()
		if ok {
			reply <- env.Body
		} else {
			b.logger.Debugf("reply for forgotten call %s", env.CallID)
		}
		return true
	}

	switch env.Op {
	case opChannelOpen:
		if ch := b.currentChannel(); ch != nil {
			ch.setOpen()
		}
	case opChannelMessage:
		var body struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			b.logger.Warnf("bad channel.message frame: %v", err)
			return true
		}
		if ch := b.currentChannel(); ch != nil {
			ch.deliver([]byte(body.Data))
		}
	case opChannelState:
		var body struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return true
		}
		if ch := b.currentChannel(); ch != nil {
			ch.setState(voice.ChannelState(body.State))
		}
	case opPeerRemoteTrack:
		var body struct {
			TrackID string `json:"trackId"`
		}
		if err := json.Unmarshal(env.Body, &body); err != nil {
			b.logger.Warnf("bad peer.remote_track frame: %v", err)
			return true
		}
		b.mu.Lock()
		fn := b.onRemoteTrack
		b.mu.Unlock()
		if fn != nil {
			fn(&bridgeTrack{bridge: b, id: body.TrackID})
		}
	default:
		return false
	}
	return true
}

func (b *deviceBridge) currentChannel() *bridgeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *deviceBridge) shutdown() {
	b.mu.Lock()
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.mu.Unlock()
}

// --- voice.Permissions ---

func (b *deviceBridge) RequestMicrophone() (bool, error) {
	res, err := b.call(opPermissionMic, struct{}{})
	if err != nil {
		return false, err
	}
	var body struct {
		Granted bool `json:"granted"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return false, err
	}
	return body.Granted, nil
}

// --- voice.AudioRouter ---

func (b *deviceBridge) StartSpeakerphone() error {
	return b.send(opAudioSpeaker, map[string]bool{"on": true})
}

func (b *deviceBridge) Stop() error {
	return b.send(opAudioSpeaker, map[string]bool{"on": false})
}

// --- voice.Signaler ---

func (b *deviceBridge) CreatePeerConnection(cfg voice.ICEConfig) (voice.PeerConnection, error) {
	if err := b.send(opPeerCreate, map[string]any{"iceServers": cfg.STUNURLs}); err != nil {
		return nil, err
	}
	return &bridgePeer{bridge: b}, nil
}

func (b *deviceBridge) GetLocalAudioStream() (voice.MediaStream, error) {
	res, err := b.call(opMediaCapture, struct{}{})
	if err != nil {
		return nil, err
	}
	var body struct {
		TrackID string `json:"trackId"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return nil, err
	}
	if body.TrackID == "" {
		return &bridgeStream{bridge: b}, nil
	}
	return &bridgeStream{
		bridge: b,
		tracks: []voice.MediaTrack{&bridgeTrack{bridge: b, id: body.TrackID}},
	}, nil
}

type bridgeTrack struct {
	bridge *deviceBridge
	id     string
}

func (t *bridgeTrack) ID() string   { return t.id }
func (t *bridgeTrack) Kind() string { return "audio" }

func (t *bridgeTrack) Stop() {
	if err := t.bridge.send(opMediaStop, map[string]string{"trackId": t.id}); err != nil {
		t.bridge.logger.Debugf("media.stop send failed: %v", err)
	}
}

type bridgeStream struct {
	bridge *deviceBridge
	tracks []voice.MediaTrack
}

func (s *bridgeStream) AudioTracks() []voice.MediaTrack { return s.tracks }

func (s *bridgeStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

type bridgePeer struct {
	bridge *deviceBridge
}

func (p *bridgePeer) AddTrack(track voice.MediaTrack) error {
	return p.bridge.send(opPeerAddTrack, map[string]string{"trackId": track.ID()})
}

// OnRemoteTrack fires when the device announces the provider's audio track
// via peer.remote_track, which lets the session switch audio routing on.
func (p *bridgePeer) OnRemoteTrack(fn func(track voice.MediaTrack)) {
	p.bridge.mu.Lock()
	p.bridge.onRemoteTrack = fn
	p.bridge.mu.Unlock()
}

func (p *bridgePeer) CreateDataChannel(label string) (voice.DataChannel, error) {
	if err := p.bridge.send(opChannelCreate, map[string]string{"label": label}); err != nil {
		return nil, err
	}
	ch := &bridgeChannel{bridge: p.bridge, state: voice.ChannelConnecting}
	p.bridge.mu.Lock()
	p.bridge.channel = ch
	p.bridge.mu.Unlock()
	return ch, nil
}

func (p *bridgePeer) CreateOffer(constraints voice.OfferConstraints) (string, error) {
	res, err := p.bridge.call(opPeerCreateOffer, map[string]bool{
		"receiveAudio": constraints.ReceiveAudio,
		"receiveVideo": constraints.ReceiveVideo,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(res, &body); err != nil {
		return "", err
	}
	return body.SDP, nil
}

func (p *bridgePeer) SetLocalDescription(sdp string) error {
	_, err := p.bridge.call(opPeerSetLocal, map[string]string{"sdp": sdp})
	return err
}

func (p *bridgePeer) SetRemoteDescription(sdp string) error {
	_, err := p.bridge.call(opPeerSetRemote, map[string]string{"sdp": sdp})
	return err
}

func (p *bridgePeer) Close() error {
	p.bridge.mu.Lock()
	p.bridge.channel = nil
	p.bridge.onRemoteTrack = nil
	p.bridge.mu.Unlock()
	return p.bridge.send(opPeerClose, struct{}{})
}

type bridgeChannel struct {
	bridge *deviceBridge

	mu        sync.Mutex
	state     voice.ChannelState
	onOpen    func()
	onMessage func([]byte)
	onError   func(error)
	onClose   func()
}

func (ch *bridgeChannel) Send(text string) error {
	return ch.bridge.send(opChannelSend, map[string]string{"data": text})
}

func (ch *bridgeChannel) ReadyState() voice.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *bridgeChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	ch.onOpen = fn
	ch.mu.Unlock()
}

func (ch *bridgeChannel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	ch.onMessage = fn
	ch.mu.Unlock()
}

func (ch *bridgeChannel) OnError(fn func(error)) {
	ch.mu.Lock()
	ch.onError = fn
	ch.mu.Unlock()
}

func (ch *bridgeChannel) OnClose(fn func()) {
	ch.mu.Lock()
	ch.onClose = fn
	ch.mu.Unlock()
}

func (ch *bridgeChannel) Close() error {
	ch.mu.Lock()
	ch.state = voice.ChannelClosed
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (ch *bridgeChannel) setOpen() {
	ch.mu.Lock()
	ch.state = voice.ChannelOpen
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *bridgeChannel) setState(state voice.ChannelState) {
	ch.mu.Lock()
	prev := ch.state
	ch.state = state
	open := ch.onOpen
	closed := ch.onClose
	ch.mu.Unlock()
	if state == voice.ChannelOpen && prev != voice.ChannelOpen && open != nil {
		open()
	}
	if state == voice.ChannelClosed && prev != voice.ChannelClosed && closed != nil {
		closed()
	}
}

func (ch *bridgeChannel) deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}
