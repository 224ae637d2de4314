package voice

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// EventType enumerates the inbound data-channel message vocabulary. Anything
// outside this set decodes to EventUnknown; unknown tags must never crash the
// decoder (forward compatibility).
type EventType string

const (
	EventSessionCreated      EventType = "session.created"
	EventSessionUpdated      EventType = "session.updated"
	EventSpeechStarted       EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped       EventType = "input_audio_buffer.speech_stopped"
	EventContentPartDone     EventType = "response.content_part.done"
	EventAudioTranscriptDone EventType = "response.audio_transcript.done"
	EventTextDone            EventType = "response.text.done"
	EventResponseDone        EventType = "response.done"
	EventError               EventType = "error"
	EventUnknown             EventType = "unknown"
)

// ContentPart is the payload of a content_part.done event.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// ErrorBody is the embedded error object of an error event.
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerEvent is the decoded form of one inbound message.
type ServerEvent struct {
	Type       EventType
	RawType    string // original tag, kept for unknown events
	ResponseID string
	Transcript string
	Text       string
	Part       *ContentPart
	Err        *ErrorBody
}

// UtteranceText returns the assistant text carried by a completion event.
func (e ServerEvent) UtteranceText() string {
	switch e.Type {
	case EventAudioTranscriptDone:
		return e.Transcript
	case EventTextDone:
		return e.Text
	case EventContentPartDone:
		if e.Part == nil {
			return ""
		}
		if e.Part.Transcript != "" {
			return e.Part.Transcript
		}
		return e.Part.Text
	}
	return ""
}

type wireEvent struct {
	Type       string       `json:"type"`
	ResponseID string       `json:"response_id"`
	Transcript string       `json:"transcript"`
	Text       string       `json:"text"`
	Part       *ContentPart `json:"part"`
	Error      *ErrorBody   `json:"error"`
}

var knownEvents = map[string]EventType{
	string(EventSessionCreated):      EventSessionCreated,
	string(EventSessionUpdated):      EventSessionUpdated,
	string(EventSpeechStarted):       EventSpeechStarted,
	string(EventSpeechStopped):       EventSpeechStopped,
	string(EventContentPartDone):     EventContentPartDone,
	string(EventAudioTranscriptDone): EventAudioTranscriptDone,
	string(EventTextDone):            EventTextDone,
	string(EventResponseDone):        EventResponseDone,
	string(EventError):               EventError,
}

// DecodeEvent parses one raw data-channel message into its typed form.
func DecodeEvent(data []byte) (ServerEvent, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return ServerEvent{}, fmt.Errorf("malformed event: %w", err)
	}
	ev := ServerEvent{
		RawType:    we.Type,
		ResponseID: we.ResponseID,
		Transcript: we.Transcript,
		Text:       we.Text,
		Part:       we.Part,
		Err:        we.Error,
	}
	if t, ok := knownEvents[we.Type]; ok {
		ev.Type = t
	} else {
		ev.Type = EventUnknown
	}
	return ev, nil
}

// EventDecoder dispatches decoded events and guarantees exactly one utterance
// callback per logical assistant turn. Three overlapping tags can each carry
// the full text; the decoder honors only the canonical tag for the session's
// modality (audio_transcript.done when audio is on, text.done otherwise).
// content_part.done duplicates whichever canonical tag applies and is always
// skipped.
type EventDecoder struct {
	logger      *Logger.Logger
	audioMode   bool
	onUtterance func(text string)
	onError     func(msg string)

	mu        sync.Mutex
	delivered map[string]bool
}

func NewEventDecoder(logger *Logger.Logger, audioMode bool, onUtterance func(string), onError func(string)) *EventDecoder {
	return &EventDecoder{
		logger:      logger,
		audioMode:   audioMode,
		onUtterance: onUtterance,
		onError:     onError,
		delivered:   make(map[string]bool),
	}
}

// HandleRaw processes one inbound message. Parse failures and unknown tags
// are logged and dropped; they never propagate.
func (d *EventDecoder) HandleRaw(data []byte) {
	ev, err := DecodeEvent(data)
	if err != nil {
		d.logger.Warnf("dropping malformed channel event: %v", err)
		return
	}
	d.Handle(ev)
}

// Handle dispatches a decoded event.
func (d *EventDecoder) Handle(ev ServerEvent) {
	switch ev.Type {
	case EventSessionCreated, EventSessionUpdated:
		d.logger.Infof("realtime session event: %s", ev.Type)

	case EventSpeechStarted, EventSpeechStopped:
		d.logger.Debugf("speech activity: %s", ev.Type)

	case EventAudioTranscriptDone, EventTextDone, EventContentPartDone:
		d.handleCompletion(ev)

	case EventResponseDone:
		d.logger.Debugf("response done: %s", ev.ResponseID)

	case EventError:
		msg := "realtime session error"
		if ev.Err != nil && ev.Err.Message != "" {
			msg = ev.Err.Message
		}
		d.logger.Errorf("realtime error event: %s", msg)
		if d.onError != nil {
			d.onError(msg)
		}

	default:
		d.logger.Debugf("ignoring unrecognized event tag %q", ev.RawType)
	}
}

func (d *EventDecoder) canonicalTag() EventType {
	if d.audioMode {
		return EventAudioTranscriptDone
	}
	return EventTextDone
}

func (d *EventDecoder) handleCompletion(ev ServerEvent) {
	text := ev.UtteranceText()
	if text == "" {
		return
	}

	d.mu.Lock()
	if ev.ResponseID != "" && d.delivered[ev.ResponseID] {
		d.mu.Unlock()
		return
	}
	// content_part.done duplicates the canonical tag for either modality.
	if ev.Type == EventContentPartDone {
		d.mu.Unlock()
		return
	}
	if ev.Type != d.canonicalTag() {
		d.logger.Debugf("skipping non-canonical completion tag %s for response %s", ev.Type, ev.ResponseID)
		d.mu.Unlock()
		return
	}
	// Events without a response id cannot be deduplicated across turns; the
	// canonical-tag filter above already prevents doubles within one turn.
	if ev.ResponseID != "" {
		d.delivered[ev.ResponseID] = true
		if len(d.delivered) > 256 {
			d.delivered = map[string]bool{ev.ResponseID: true}
		}
	}
	d.mu.Unlock()

	if d.onUtterance != nil {
		d.onUtterance(text)
	}
}
