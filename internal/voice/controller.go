package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// Status is the voice session lifecycle state. Transitions are monotonic
// along idle -> connecting -> connected -> idle; every connect failure exits
// back to idle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
)

const channelLabel = "oai-events"

// Controller owns one realtime voice session at a time: the peer connection,
// data channel and local media stream handles are held exclusively here. It
// is the single writer of session state; the event decoder never touches it.
type Controller struct {
	cfg      config.RealtimeConfig
	provider *ProviderClient
	signaler Signaler
	perms    Permissions
	audio    AudioRouter
	log      *chatlog.ChatLog
	logger   *Logger.Logger
	decoder  *EventDecoder

	instructions string

	mu         sync.Mutex
	status     Status
	generation uint64
	pc         PeerConnection
	dc         DataChannel
	stream     MediaStream
}

// Instructions come from the intent package via the orchestrator so this
// package does not depend on the keyword lists.
type ControllerOpts struct {
	Config       config.RealtimeConfig
	Provider     *ProviderClient
	Signaler     Signaler
	Permissions  Permissions
	AudioRouter  AudioRouter
	ChatLog      *chatlog.ChatLog
	Logger       *Logger.Logger
	Instructions string
	OnUtterance  func(text string)
}

func NewController(opts ControllerOpts) *Controller {
	c := &Controller{
		cfg:      opts.Config,
		provider: opts.Provider,
		signaler: opts.Signaler,
		perms:    opts.Permissions,
		audio:    opts.AudioRouter,
		log:      opts.ChatLog,
		logger:   opts.Logger,
		status:   StatusIdle,
	}
	c.instructions = opts.Instructions
	c.decoder = NewEventDecoder(opts.Logger, true, opts.OnUtterance, func(msg string) {
		opts.ChatLog.AddText("Voice session error: "+msg, false)
	})
	return c
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connected reports whether a session is live.
func (c *Controller) Connected() bool {
	return c.Status() == StatusConnected
}

// Connect establishes a realtime voice session. It is a no-op unless the
// controller is idle. Every failure path reverts to idle, tears down any
// partially created handles, and appends exactly one failure message.
func (c *Controller) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		c.logger.Debugf("connect ignored, session status is %s", c.status)
		return
	}
	c.status = StatusConnecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	if err := c.dial(ctx, gen); err != nil {
		if errors.Is(err, errSuperseded) {
			// Disconnect already tore everything down; stay quiet.
			c.logger.Infof("stale connect discarded after disconnect")
			return
		}
		c.logger.Errorf("voice connect failed: %v", err)
		if !c.abort(gen) {
			// Disconnect superseded this attempt mid-dial; it already tore
			// down and the user hung up, so no failure message.
			return
		}
		c.log.AddText("Could not start the voice session. "+userFacing(err), false)
	}
}

// dial runs the connect sequence. The generation guard makes a disconnect
// racing an in-flight connect final: a stale dial can never commit handles or
// the connected status after teardown.
func (c *Controller) dial(ctx context.Context, gen uint64) error {
	granted, err := c.perms.RequestMicrophone()
	if err != nil {
		return fmt.Errorf("microphone permission: %w", err)
	}
	if !granted {
		return errPermissionDenied
	}

	secret, err := c.provider.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("session credential: %w", err)
	}

	pc, err := c.signaler.CreatePeerConnection(ICEConfig{STUNURLs: []string{c.cfg.STUNURL}})
	if err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	if !c.commitHandle(gen, func() { c.pc = pc }) {
		pc.Close()
		return errSuperseded
	}

	stream, err := c.signaler.GetLocalAudioStream()
	if err != nil {
		return fmt.Errorf("local audio stream: %w", err)
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		stream.Stop()
		return fmt.Errorf("local audio stream has no tracks")
	}
	if !c.commitHandle(gen, func() { c.stream = stream }) {
		stream.Stop()
		return errSuperseded
	}

	for _, t := range tracks {
		if err := pc.AddTrack(t); err != nil {
			return fmt.Errorf("attach local track: %w", err)
		}
	}
	pc.OnRemoteTrack(func(track MediaTrack) {
		if err := c.audio.StartSpeakerphone(); err != nil {
			c.logger.Warnf("speakerphone routing failed: %v", err)
		}
	})

	dc, err := pc.CreateDataChannel(channelLabel)
	if err != nil {
		return fmt.Errorf("data channel: %w", err)
	}
	if !c.commitHandle(gen, func() { c.dc = dc }) {
		dc.Close()
		return errSuperseded
	}
	dc.OnOpen(func() { c.sendSessionConfig(dc) })
	dc.OnMessage(c.decoder.HandleRaw)
	dc.OnError(func(err error) {
		c.logger.Errorf("data channel error: %v", err)
	})
	dc.OnClose(func() {
		c.logger.Infof("data channel closed")
	})

	offer, err := pc.CreateOffer(OfferConstraints{ReceiveAudio: true})
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if !strings.Contains(offer, "m=audio") {
		return fmt.Errorf("offer has no audio media section")
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	answer, err := c.provider.ExchangeSDP(ctx, offer, secret)
	if err != nil {
		return fmt.Errorf("sdp exchange: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.status != StatusConnecting {
		return errSuperseded
	}
	c.status = StatusConnected
	c.logger.Infof("voice session connected")
	return nil
}

// commitHandle stores a handle only if this dial attempt is still current.
func (c *Controller) commitHandle(gen uint64, store func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.status != StatusConnecting {
		return false
	}
	store()
	return true
}

// abort tears down after a failed dial and reports whether that dial was
// still the current attempt.
func (c *Controller) abort(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.teardownLocked()
	return true
}

// Disconnect is idempotent and never panics: it stops local media, closes the
// channel and connection, stops audio routing, and forces idle regardless of
// prior state. Bumping the generation invalidates any in-flight connect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.generation++
	c.teardownLocked()
	c.mu.Unlock()
	c.logger.Infof("voice session disconnected")
}

func (c *Controller) teardownLocked() {
	if c.stream != nil {
		for _, t := range c.stream.AudioTracks() {
			t.Stop()
		}
		c.stream.Stop()
		c.stream = nil
	}
	if c.dc != nil {
		if err := c.dc.Close(); err != nil {
			c.logger.Warnf("data channel close: %v", err)
		}
		c.dc = nil
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.logger.Warnf("peer connection close: %v", err)
		}
		c.pc = nil
	}
	if c.audio != nil {
		if err := c.audio.Stop(); err != nil {
			c.logger.Warnf("audio routing stop: %v", err)
		}
	}
	c.status = StatusIdle
}

func (c *Controller) sendSessionConfig(dc DataChannel) {
	msg, err := encodeSessionUpdate(c.instructions, c.cfg.Voice)
	if err != nil {
		c.logger.Errorf("failed to encode session config: %v", err)
		return
	}
	if err := dc.Send(msg); err != nil {
		c.logger.Errorf("failed to send session config: %v", err)
		return
	}
	c.logger.Infof("session configuration sent")
}

// SendUserText pushes one user turn over the open channel using the
// two-message protocol: item create then response create. Returns false when
// the channel is not open or a send fails; it never panics.
func (c *Controller) SendUserText(text string, modalities []string, instructions string) bool {
	c.mu.Lock()
	dc := c.dc
	status := c.status
	c.mu.Unlock()

	if status != StatusConnected || dc == nil || dc.ReadyState() != ChannelOpen {
		c.logger.Warnf("cannot send user turn, channel not open")
		return false
	}

	item, err := encodeUserItem(text)
	if err != nil {
		c.logger.Errorf("encode user item: %v", err)
		return false
	}
	if err := dc.Send(item); err != nil {
		c.logger.Errorf("send user item: %v", err)
		return false
	}

	resp, err := encodeResponseCreate(modalities, instructions)
	if err != nil {
		c.logger.Errorf("encode response request: %v", err)
		return false
	}
	if err := dc.Send(resp); err != nil {
		c.logger.Errorf("send response request: %v", err)
		return false
	}
	return true
}

var (
	errPermissionDenied = errors.New("microphone permission denied")
	errSuperseded       = errors.New("connect superseded by disconnect")
)

func userFacing(err error) string {
	switch {
	case errors.Is(err, errPermissionDenied):
		return "Microphone access was denied."
	default:
		return "Please try again."
	}
}
