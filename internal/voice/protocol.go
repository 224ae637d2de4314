package voice

import "encoding/json"

// Outbound client events for the realtime data channel. Sends are
// fire-and-forget; callers learn about failure through a bool, never a panic.

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions"`
	Voice                   string             `json:"voice"`
	InputAudioFormat        string             `json:"input_audio_format"`
	OutputAudioFormat       string             `json:"output_audio_format"`
	InputAudioTranscription transcriptionModel `json:"input_audio_transcription"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type conversationItemEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []itemContent `json:"content"`
}

type itemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateEvent struct {
	Type     string         `json:"type"`
	Response responseConfig `json:"response"`
}

type responseConfig struct {
	Modalities   []string `json:"modalities"`
	Instructions string   `json:"instructions,omitempty"`
}

func encodeSessionUpdate(instructions, voiceName string) (string, error) {
	ev := sessionUpdateEvent{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:              []string{"audio", "text"},
			Instructions:            instructions,
			Voice:                   voiceName,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: transcriptionModel{Model: "whisper-1"},
		},
	}
	raw, err := json.Marshal(ev)
	return string(raw), err
}

func encodeUserItem(text string) (string, error) {
	ev := conversationItemEvent{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []itemContent{{Type: "input_text", Text: text}},
		},
	}
	raw, err := json.Marshal(ev)
	return string(raw), err
}

func encodeResponseCreate(modalities []string, instructions string) (string, error) {
	ev := responseCreateEvent{
		Type: "response.create",
		Response: responseConfig{
			Modalities:   modalities,
			Instructions: instructions,
		},
	}
	raw, err := json.Marshal(ev)
	return string(raw), err
}
