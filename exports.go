package farmledger

import (
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/types"
)

// Re-export common types for convenience so users don't have to import the
// domain packages for everyday calls.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Event is re-exported from event package.
type Event = event.Event

// EventType is re-exported from event package.
type EventType = event.Type

// Re-export amount helpers
var (
	NewAmount   = types.NewAmount
	ParseAmount = types.ParseAmount
	Sum         = types.Sum
	Tolerance   = types.Tolerance
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
