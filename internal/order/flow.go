// Package order runs the multi-turn ordering dialogue layered over chat.
package order

import (
	"context"
	"strings"
	"sync"

	"github.com/looplab/fsm"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
	"github.com/xpanvictor/tabletalk/internal/intent"
	"github.com/xpanvictor/tabletalk/internal/menu"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// Flow states.
const (
	StateNoOrder  = "no_order"
	StateAwaiting = "awaiting_clarification"
)

// Flow events.
const (
	eventBegin    = "begin"
	eventFinalize = "finalize"
	eventAbandon  = "abandon"
)

// InstructionGenerator produces the final ordering instructions from the
// selection and the user's accumulated clarifications.
type InstructionGenerator interface {
	Generate(ctx context.Context, items []menu.Item, notes string) (string, error)
}

// Flow is the ordering dialogue state machine: no_order ->
// awaiting_clarification -> (finalize) -> no_order. The last selection is
// remembered across finalization so a later bare "order for me" can reuse it.
type Flow struct {
	gen    InstructionGenerator
	log    *chatlog.ChatLog
	logger *Logger.Logger

	mu            sync.Mutex
	machine       *fsm.FSM
	selection     []menu.Item
	lastSelection []menu.Item
	responses     []string
}

func NewFlow(gen InstructionGenerator, log *chatlog.ChatLog, logger *Logger.Logger) *Flow {
	f := &Flow{
		gen:    gen,
		log:    log,
		logger: logger,
	}
	f.machine = newMachine()
	return f
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateNoOrder,
		fsm.Events{
			{Name: eventBegin, Src: []string{StateNoOrder}, Dst: StateAwaiting},
			{Name: eventFinalize, Src: []string{StateAwaiting}, Dst: StateNoOrder},
			{Name: eventAbandon, Src: []string{StateAwaiting}, Dst: StateNoOrder},
		},
		fsm.Callbacks{},
	)
}

// AwaitingClarification reports whether the flow is waiting on the user.
func (f *Flow) AwaitingClarification() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.machine.Current() == StateAwaiting
}

// SelectItems begins an order from an explicit menu selection.
func (f *Flow) SelectItems(ctx context.Context, items []menu.Item) {
	f.mu.Lock()
	f.selection = items
	f.lastSelection = items
	f.responses = nil
	if f.machine.Current() != StateAwaiting {
		if err := f.machine.Event(ctx, eventBegin); err != nil {
			f.logger.Errorf("order begin transition: %v", err)
		}
	}
	f.mu.Unlock()

	f.log.AddText(selectionPrompt(items), false)
}

// HandleCommand begins an order from a free-text order command. With no
// current or remembered selection the flow still enters awaiting and asks
// the user to pick items first.
func (f *Flow) HandleCommand(ctx context.Context) {
	f.mu.Lock()
	if len(f.selection) == 0 && len(f.lastSelection) > 0 {
		f.selection = f.lastSelection
	}
	empty := len(f.selection) == 0
	if f.machine.Current() != StateAwaiting {
		f.responses = nil
		if err := f.machine.Event(ctx, eventBegin); err != nil {
			f.logger.Errorf("order begin transition: %v", err)
		}
	}
	items := f.selection
	f.mu.Unlock()

	if empty {
		f.log.AddText("I'd love to help you order! Please pick some dishes from the menu first.", false)
		return
	}
	f.log.AddText(selectionPrompt(items), false)
}

// HandleResponse consumes one user message while awaiting clarification.
// Returns false when the flow is not awaiting or the text is not an order
// response, so the orchestrator can route it elsewhere. A no-allergies
// answer, or any accumulated clarification, finalizes immediately; there is
// no separate done signal.
func (f *Flow) HandleResponse(ctx context.Context, text string) bool {
	f.mu.Lock()
	if f.machine.Current() != StateAwaiting || !intent.IsOrderResponse(text) {
		f.mu.Unlock()
		return false
	}
	if len(f.selection) == 0 {
		f.mu.Unlock()
		f.log.AddText("Please pick some dishes from the menu first, then I'll place the order.", false)
		return true
	}
	f.responses = append(f.responses, text)
	ready := intent.IsNoAllergiesResponse(text) || len(f.responses) >= 1
	f.mu.Unlock()

	if ready {
		f.finalize(ctx)
	}
	return true
}

func (f *Flow) finalize(ctx context.Context) {
	f.mu.Lock()
	items := f.selection
	notes := strings.Join(f.responses, "\n")
	f.mu.Unlock()

	text, err := f.gen.Generate(ctx, items, notes)
	if err != nil {
		f.logger.Errorf("instruction generation failed: %v", err)
		f.log.AddText("Sorry, I couldn't put your order together. Please try again.", false)
		return
	}

	f.mu.Lock()
	f.selection = nil
	f.responses = nil
	if err := f.machine.Event(ctx, eventFinalize); err != nil {
		f.logger.Errorf("order finalize transition: %v", err)
	}
	f.mu.Unlock()

	f.log.Append(chatlog.Message{Text: text, FromUser: false, Kind: chatlog.KindPlain, Markdown: true})
}

// Reset fully clears the flow, including the remembered selection. Used on
// chat clear.
func (f *Flow) Reset(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selection = nil
	f.lastSelection = nil
	f.responses = nil
	if f.machine.Current() != StateNoOrder {
		if err := f.machine.Event(ctx, eventAbandon); err != nil {
			f.logger.Errorf("order abandon transition: %v", err)
		}
	}
}

func selectionPrompt(items []menu.Item) string {
	var names []string
	for _, it := range items {
		name := it.EnglishName
		if name == "" {
			name = it.Name
		}
		names = append(names, name)
	}
	return "Great choice: " + strings.Join(names, ", ") +
		". Any allergies or special requests before I put the order together?"
}
