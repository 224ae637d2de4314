// Package intent holds the shared keyword classifiers used for every user
// utterance and every assistant transcript. The voice session's system
// instructions live here too: the deferral phrase the realtime model is told
// to emit must stay matchable by the lookup indicators below, so both are
// defined in one place.
package intent

import (
	"strings"

	"github.com/xpanvictor/tabletalk/internal/chatlog"
)

// SessionInstructions is sent once over the data channel when it opens. It
// pins the behavioral contract with the realtime model: location, food,
// shopping and weather questions get a fixed deferral phrase instead of a
// direct answer, which the client intercepts and augments with live search.
const SessionInstructions = "You are a friendly dining companion helping a traveler. " +
	"Keep replies short and conversational. " +
	"If the user asks about weather, restaurants, shops, stores, prices, or anything near their location, " +
	"do not answer directly. Instead reply exactly in this form: " +
	"\"I will check <topic> and get back to you soon.\" " +
	"For everything else, answer normally."

// lookupIndicators match the deferral phrase the session instructions force
// the model to produce. Changing SessionInstructions requires revisiting this
// list.
var lookupIndicators = []string{
	"i will check",
	"get back to you",
	"let me check",
	"let me look",
	"i'll look that up",
	"looking that up",
}

var externalQueryKeywords = []string{
	"weather",
	"temperature",
	"forecast",
	"restaurant",
	"restaurants",
	"near me",
	"nearby",
	"around here",
	"shop",
	"store",
	"where can i buy",
	"where to buy",
	"search for",
	"look up",
}

var weatherKeywords = []string{
	"weather",
	"temperature",
	"forecast",
	"rain",
	"sunny",
	"humidity",
}

var restaurantKeywords = []string{
	"restaurant",
	"food",
	"eat",
	"dinner",
	"lunch",
	"breakfast",
	"cafe",
	"sushi",
	"cuisine",
}

var shopKeywords = []string{
	"shop",
	"store",
	"buy",
	"mall",
	"market",
	"souvenir",
	"pharmacy",
}

var orderCommandKeywords = []string{
	"order for me",
	"place the order",
	"place my order",
	"order this",
	"order these",
	"i want to order",
	"help me order",
}

var orderResponseKeywords = []string{
	"allerg",
	"no allergies",
	"gluten",
	"vegetarian",
	"vegan",
	"spicy",
	"not spicy",
	"no onion",
	"no garlic",
	"extra",
	"without",
	"none",
	"nothing special",
	"no restrictions",
	"i'm good",
	"im good",
}

var noAllergiesKeywords = []string{
	"no allergies",
	"no allergy",
	"none",
	"nothing",
	"no restrictions",
	"i'm good",
	"im good",
	"all good",
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsExternalQuery reports whether the text should trigger search augmentation.
// It matches both directly typed queries and the assistant's own deferral
// phrase, so the orchestrator can run it against either side of the dialogue.
func IsExternalQuery(text string) bool {
	return containsAny(text, externalQueryKeywords) || containsAny(text, lookupIndicators)
}

// IsOrderCommand reports whether the text asks the assistant to place an order.
func IsOrderCommand(text string) bool {
	return containsAny(text, orderCommandKeywords)
}

// IsOrderResponse reports whether the text looks like an allergy or
// customization answer during an in-progress order.
func IsOrderResponse(text string) bool {
	return containsAny(text, orderResponseKeywords)
}

// IsNoAllergiesResponse reports whether the text says it is safe to proceed
// without further clarification.
func IsNoAllergiesResponse(text string) bool {
	return containsAny(text, noAllergiesKeywords)
}

// QueryTypeOf categorizes a query. Total and deterministic: checked in the
// fixed order weather, restaurant, shop; anything else is general.
func QueryTypeOf(text string) chatlog.QueryType {
	switch {
	case containsAny(text, weatherKeywords):
		return chatlog.QueryWeather
	case containsAny(text, restaurantKeywords):
		return chatlog.QueryRestaurant
	case containsAny(text, shopKeywords):
		return chatlog.QueryShop
	default:
		return chatlog.QueryGeneral
	}
}
