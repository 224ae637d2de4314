// Package menu models a photographed restaurant menu after vision extraction.
package menu

import "time"

// Item is one parsed menu entry with the foreign original and its translation.
type Item struct {
	Name        string `json:"name"`
	EnglishName string `json:"englishName"`
	Price       string `json:"price"`
	USDPrice    string `json:"usdPrice"`
}

// Data is the full extraction result. The orchestrator treats it as opaque
// beyond checking Items is non-empty; the ordering flow and menu UI consume
// the rest.
type Data struct {
	Items        []Item    `json:"items"`
	Currency     string    `json:"currency"`
	ExchangeRate string    `json:"exchangeRate"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasItems reports whether extraction yielded anything usable.
func (d Data) HasItems() bool {
	return len(d.Items) > 0
}
