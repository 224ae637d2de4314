package voice

// Signaling and media acquisition are external collaborators: the actual
// peer connection, microphone and speaker live on the device. The controller
// drives them through these interfaces; production wires a bridge that relays
// each call to the device, tests wire in-memory fakes.

// ICEConfig carries the fixed ICE server list used for every session.
type ICEConfig struct {
	STUNURLs []string `json:"stunUrls"`
}

// OfferConstraints shape the local SDP offer.
type OfferConstraints struct {
	ReceiveAudio bool `json:"receiveAudio"`
	ReceiveVideo bool `json:"receiveVideo"`
}

// ChannelState mirrors the data channel readyState field, checked before
// every send.
type ChannelState string

const (
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosing    ChannelState = "closing"
	ChannelClosed     ChannelState = "closed"
)

// MediaTrack is an opaque handle to one local or remote media track.
type MediaTrack interface {
	ID() string
	Kind() string // "audio" or "video"
	Stop()
}

// MediaStream is the device's local capture stream.
type MediaStream interface {
	AudioTracks() []MediaTrack
	Stop()
}

// DataChannel is the ordered, reliable message channel riding the peer
// connection.
type DataChannel interface {
	Send(text string) error
	ReadyState() ChannelState
	OnOpen(func())
	OnMessage(func(data []byte))
	OnError(func(err error))
	OnClose(func())
	Close() error
}

// PeerConnection is the negotiated media session.
type PeerConnection interface {
	AddTrack(track MediaTrack) error
	OnRemoteTrack(func(track MediaTrack))
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer(constraints OfferConstraints) (string, error)
	SetLocalDescription(sdp string) error
	SetRemoteDescription(sdp string) error
	Close() error
}

// Signaler creates peer connections and acquires local media on the device.
type Signaler interface {
	CreatePeerConnection(cfg ICEConfig) (PeerConnection, error)
	GetLocalAudioStream() (MediaStream, error)
}

// Permissions prompts the platform for microphone access.
type Permissions interface {
	RequestMicrophone() (bool, error)
}

// AudioRouter controls platform audio output routing for the session.
type AudioRouter interface {
	StartSpeakerphone() error
	Stop() error
}
