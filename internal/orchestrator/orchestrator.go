// Package orchestrator decides, for every user utterance and every assistant
// event, which conversational mode handles it: the voice session, plain chat,
// external-query augmentation, or the ordering flow.
package orchestrator

import (
	"context"
	"strings"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/geo"
	"github.com/xpanvictor/tabletalk/internal/intent"
	"github.com/xpanvictor/tabletalk/internal/menu"
	"github.com/xpanvictor/tabletalk/internal/order"
	"github.com/xpanvictor/tabletalk/internal/search"
	"github.com/xpanvictor/tabletalk/internal/voice"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// AttachmentOption identifies one long-press attachment action from the UI.
type AttachmentOption string

const (
	OptionCamera   AttachmentOption = "camera"
	OptionGallery  AttachmentOption = "gallery"
	OptionMenu     AttachmentOption = "menu"
	OptionLocation AttachmentOption = "location"
	OptionDocument AttachmentOption = "document"
)

// ChatCompleter answers plain text turns when no voice session is live.
type ChatCompleter interface {
	Complete(ctx context.Context, history []chatlog.Message, userText string) (string, error)
}

// Searcher runs external-query augmentation.
type Searcher interface {
	Augment(ctx context.Context, text string) search.Result
	SetLocation(loc string)
}

// Describer analyzes images.
type Describer interface {
	Describe(ctx context.Context, image []byte) string
	ExtractMenu(ctx context.Context, image []byte) (menu.Data, error)
}

// Reverser resolves coordinates to a place.
type Reverser interface {
	Reverse(ctx context.Context, lat, lng float64) (geo.Place, error)
}

const chatApology = "Sorry, I couldn't answer that right now. Please try again."

// visionAudioInstruction steers the voice reply after an image turn.
const visionAudioInstruction = "The user just showed you an image. Discuss what the user is " +
	"looking at in a warm, curious tone."

// Deps are the collaborator implementations wired at startup; tests swap in
// fakes.
type Deps struct {
	Signaler    voice.Signaler
	Permissions voice.Permissions
	Audio       voice.AudioRouter
	Completer   ChatCompleter
	Searcher    Searcher
	Vision      Describer
	Geo         Reverser
	Generator   order.InstructionGenerator
}

// Orchestrator glues the conversational components around the shared chat
// log. One orchestrator serves one device session.
type Orchestrator struct {
	cfg    *config.Settings
	logger *Logger.Logger

	log       *chatlog.ChatLog
	voiceCtrl *voice.Controller
	completer ChatCompleter
	searcher  Searcher
	vision    Describer
	geocoder  Reverser
	orderFlow *order.Flow
}

func New(cfg *config.Settings, logger *Logger.Logger, deps Deps) *Orchestrator {
	log := chatlog.New()
	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		log:       log,
		completer: deps.Completer,
		searcher:  deps.Searcher,
		vision:    deps.Vision,
		geocoder:  deps.Geo,
	}
	o.orderFlow = order.NewFlow(deps.Generator, log, logger.Named("order"))
	o.voiceCtrl = voice.NewController(voice.ControllerOpts{
		Config:       cfg.Realtime,
		Provider:     voice.NewProviderClient(cfg.Realtime),
		Signaler:     deps.Signaler,
		Permissions:  deps.Permissions,
		AudioRouter:  deps.Audio,
		ChatLog:      log,
		Logger:       logger.Named("voice"),
		Instructions: intent.SessionInstructions,
		OnUtterance:  o.handleAssistantUtterance,
	})
	return o
}

// ChatLog exposes the shared message bus, e.g. for the UI bridge to
// subscribe.
func (o *Orchestrator) ChatLog() *chatlog.ChatLog {
	return o.log
}

// VoiceStatus reports the session lifecycle state.
func (o *Orchestrator) VoiceStatus() voice.Status {
	return o.voiceCtrl.Status()
}

// ConnectVoice starts the realtime voice session; no-op when one is live.
func (o *Orchestrator) ConnectVoice(ctx context.Context) {
	o.voiceCtrl.Connect(ctx)
}

// DisconnectVoice tears the session down; idempotent.
func (o *Orchestrator) DisconnectVoice() {
	o.voiceCtrl.Disconnect()
}

// HandleUserText routes one typed user message through the dispatch policy:
// order clarification, order command, external query, live voice channel,
// then plain chat, in that order.
func (o *Orchestrator) HandleUserText(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.log.AddText(text, true)

	if o.orderFlow.AwaitingClarification() && o.orderFlow.HandleResponse(ctx, text) {
		return
	}
	if intent.IsOrderCommand(text) {
		o.orderFlow.HandleCommand(ctx)
		return
	}
	if intent.IsExternalQuery(text) {
		o.augment(ctx, text)
		return
	}
	if o.voiceCtrl.Connected() {
		if o.voiceCtrl.SendUserText(text, []string{"text", "audio"}, "") {
			return
		}
		o.logger.Warnf("voice send failed, falling back to chat")
	}
	o.chat(ctx, text)
}

// handleAssistantUtterance is the decoder's per-turn hook: log the
// transcript, then run the same external-query predicate against the
// assistant's own words to catch the deferral phrase.
func (o *Orchestrator) handleAssistantUtterance(text string) {
	o.log.AddTranscript(text)
	if intent.IsExternalQuery(text) {
		o.augment(context.Background(), extractTopic(text))
	}
}

func (o *Orchestrator) augment(ctx context.Context, text string) {
	res := o.searcher.Augment(ctx, text)
	msg := chatlog.Message{
		Text:     res.DisplayText,
		FromUser: false,
		Kind:     chatlog.KindExternalQuery,
	}
	if res.Payload != nil {
		msg.Payload = &chatlog.QueryPayload{Data: res.Payload, QueryType: res.QueryType}
	} else {
		msg.Payload = &chatlog.QueryPayload{QueryType: res.QueryType}
	}
	o.log.Append(msg)
}

func (o *Orchestrator) chat(ctx context.Context, text string) {
	reply, err := o.completer.Complete(ctx, o.log.Messages(), text)
	if err != nil {
		o.logger.Errorf("chat completion failed: %v", err)
		o.log.AddText(chatApology, false)
		return
	}
	o.log.AddText(reply, false)
}

// HandleImage runs the vision pipeline on a captured or picked image. The
// description lands in the chat log; with a live voice session it is also
// fed back as a user turn requesting an audio-only reply.
func (o *Orchestrator) HandleImage(ctx context.Context, image []byte) {
	description := o.vision.Describe(ctx, image)
	o.log.AddText(description, false)

	if o.voiceCtrl.Connected() {
		turn := "I'm looking at this: " + description
		if !o.voiceCtrl.SendUserText(turn, []string{"audio"}, visionAudioInstruction) {
			o.logger.Warnf("could not feed image description into voice session")
		}
	}
}

// HandleMenuPhoto extracts structured menu data from a photographed menu.
func (o *Orchestrator) HandleMenuPhoto(ctx context.Context, image []byte) (menu.Data, bool) {
	data, err := o.vision.ExtractMenu(ctx, image)
	if err != nil {
		o.logger.Errorf("menu extraction failed: %v", err)
		o.log.AddText("I couldn't read that menu. Try a clearer photo with good lighting.", false)
		return menu.Data{}, false
	}
	if !data.HasItems() {
		o.log.AddText("I couldn't find any dishes on that menu photo.", false)
		return menu.Data{}, false
	}
	o.log.AddText(menuSummary(data), false)
	return data, true
}

// SelectMenuItems is the explicit order entry point from the menu UI.
func (o *Orchestrator) SelectMenuItems(ctx context.Context, items []menu.Item) {
	o.orderFlow.SelectItems(ctx, items)
}

// HandleLocation reverse-geocodes the device position and localizes search.
func (o *Orchestrator) HandleLocation(ctx context.Context, lat, lng float64) {
	place, err := o.geocoder.Reverse(ctx, lat, lng)
	if err != nil {
		o.logger.Errorf("reverse geocode failed: %v", err)
		o.log.AddText("I couldn't figure out where you are right now.", false)
		return
	}
	loc := place.Display()
	if loc == "" {
		o.log.AddText("I couldn't figure out where you are right now.", false)
		return
	}
	o.searcher.SetLocation(loc)
	o.log.AddText("Got it, you're near "+loc+". I'll use that for nearby searches.", false)
}

// ExportMessage serializes a message for the clipboard.
func (o *Orchestrator) ExportMessage(id int64) (string, bool) {
	m, ok := o.log.Get(id)
	if !ok {
		return "", false
	}
	return chatlog.Export(m), true
}

// ClearChat empties the log and fully resets the ordering flow.
func (o *Orchestrator) ClearChat(ctx context.Context) {
	o.log.Clear()
	o.orderFlow.Reset(ctx)
}

// extractTopic pulls the lookup subject out of a deferral phrase like
// "I will check nearby sushi restaurants and get back to you soon"; if the
// phrase shape is unfamiliar the whole text is used.
func extractTopic(text string) string {
	lower := strings.ToLower(text)
	topic := lower
	if idx := strings.Index(lower, "i will check"); idx >= 0 {
		topic = lower[idx+len("i will check"):]
	} else if idx := strings.Index(lower, "let me check"); idx >= 0 {
		topic = lower[idx+len("let me check"):]
	}
	if idx := strings.Index(topic, "and get back"); idx >= 0 {
		topic = topic[:idx]
	}
	topic = strings.Trim(topic, " .,!")
	if topic == "" {
		return text
	}
	return topic
}

func menuSummary(data menu.Data) string {
	var b strings.Builder
	b.WriteString("Here's what I found on the menu")
	if data.Currency != "" {
		b.WriteString(" (prices in " + data.Currency + ")")
	}
	b.WriteString(":\n")
	for _, it := range data.Items {
		name := it.EnglishName
		if name == "" {
			name = it.Name
		}
		b.WriteString("- " + name + ": " + it.Price)
		if it.USDPrice != "" {
			b.WriteString(" (" + it.USDPrice + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("Pick what you'd like and I can help you order.")
	return b.String()
}
