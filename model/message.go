package model

import "github.com/eatisim/eatisim/sim"

// A Message is what entities put into each other's mailboxes.
type Message struct {
	Type    string                 `json:"type"`
	From    string                 `json:"from"`
	To      string                 `json:"to"`
	Time    sim.VTimeInSec         `json:"time"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
