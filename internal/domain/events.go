package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventSubjectPrefix is the JetStream subject root of ledger events.
// Subjects are ledger.events.{state}.{type}.
const EventSubjectPrefix = "ledger.events"

// EventType identifies a ledger event variant
type EventType string

const (
	EventPropertyRegistered  EventType = "PROPERTY_REGISTERED"
	EventTransferCompleted   EventType = "TRANSFER_COMPLETED"
	EventEncumbranceAdded    EventType = "ENCUMBRANCE_ADDED"
	EventEncumbranceReleased EventType = "ENCUMBRANCE_RELEASED"
	EventDisputeFlagged      EventType = "DISPUTE_FLAGGED"
	EventDisputeResolved     EventType = "DISPUTE_RESOLVED"
)

// EventClass groups event types that share a worker pool in the sync pipeline
type EventClass string

const (
	EventClassOwnership   EventClass = "ownership"
	EventClassEncumbrance EventClass = "encumbrance"
	EventClassDispute     EventClass = "dispute"
)

// AllEventTypes lists every variant the sync pipeline must handle
var AllEventTypes = []EventType{
	EventPropertyRegistered,
	EventTransferCompleted,
	EventEncumbranceAdded,
	EventEncumbranceReleased,
	EventDisputeFlagged,
	EventDisputeResolved,
}

// Class returns the worker pool class of the event type
func (t EventType) Class() EventClass {
	switch t {
	case EventEncumbranceAdded, EventEncumbranceReleased:
		return EventClassEncumbrance
	case EventDisputeFlagged, EventDisputeResolved:
		return EventClassDispute
	default:
		return EventClassOwnership
	}
}

// LedgerEvent is the envelope published on the event stream for every
// committed ledger transaction the mirror cares about
type LedgerEvent struct {
	EventID     string          `json:"event_id"`
	Type        EventType       `json:"type"`
	BlockNumber uint64          `json:"block_number"`
	TxID        string          `json:"tx_id"`
	StateCode   string          `json:"state_code"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// EventPayload is implemented by every event variant
type EventPayload interface {
	Kind() EventType
	Property() PropertyID
}

type PropertyRegistered struct {
	PropertyID   PropertyID `json:"property_id"`
	OwnerHash    string     `json:"owner_hash"`
	OwnerName    string     `json:"owner_name"`
	AreaCentiSqM int64      `json:"area_centi_sqm"`
}

type TransferCompleted struct {
	TransferID        string     `json:"transfer_id"`
	PropertyID        PropertyID `json:"property_id"`
	SellerHash        string     `json:"seller_hash"`
	BuyerHash         string     `json:"buyer_hash"`
	BuyerName         string     `json:"buyer_name"`
	SaleAmount        int64      `json:"sale_amount"`
	Sequence          int64      `json:"sequence"`
	CoolingPeriodEnds time.Time  `json:"cooling_period_ends"`
}

type EncumbranceAdded struct {
	EncumbranceID string     `json:"encumbrance_id"`
	PropertyID    PropertyID `json:"property_id"`
	Category      string     `json:"category"`
	HolderName    string     `json:"holder_name"`
}

type EncumbranceReleased struct {
	EncumbranceID string     `json:"encumbrance_id"`
	PropertyID    PropertyID `json:"property_id"`
}

type DisputeFlagged struct {
	DisputeID  string     `json:"dispute_id"`
	PropertyID PropertyID `json:"property_id"`
	Category   string     `json:"category"`
}

type DisputeResolved struct {
	DisputeID  string     `json:"dispute_id"`
	PropertyID PropertyID `json:"property_id"`
}

func (PropertyRegistered) Kind() EventType  { return EventPropertyRegistered }
func (TransferCompleted) Kind() EventType   { return EventTransferCompleted }
func (EncumbranceAdded) Kind() EventType    { return EventEncumbranceAdded }
func (EncumbranceReleased) Kind() EventType { return EventEncumbranceReleased }
func (DisputeFlagged) Kind() EventType      { return EventDisputeFlagged }
func (DisputeResolved) Kind() EventType     { return EventDisputeResolved }

func (e PropertyRegistered) Property() PropertyID  { return e.PropertyID }
func (e TransferCompleted) Property() PropertyID   { return e.PropertyID }
func (e EncumbranceAdded) Property() PropertyID    { return e.PropertyID }
func (e EncumbranceReleased) Property() PropertyID { return e.PropertyID }
func (e DisputeFlagged) Property() PropertyID      { return e.PropertyID }
func (e DisputeResolved) Property() PropertyID     { return e.PropertyID }

// Subject returns the stream subject the event is published on
func (e *LedgerEvent) Subject() string {
	state := strings.ToLower(e.StateCode)
	if state == "" {
		state = "unknown"
	}
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, state, strings.ToLower(string(e.Type)))
}

// Decode unmarshals the payload into its concrete variant.
// Unknown types are an error; the consumer terminates such messages.
func (e *LedgerEvent) Decode() (EventPayload, error) {
	var p EventPayload
	switch e.Type {
	case EventPropertyRegistered:
		p = &PropertyRegistered{}
	case EventTransferCompleted:
		p = &TransferCompleted{}
	case EventEncumbranceAdded:
		p = &EncumbranceAdded{}
	case EventEncumbranceReleased:
		p = &EncumbranceReleased{}
	case EventDisputeFlagged:
		p = &DisputeFlagged{}
	case EventDisputeResolved:
		p = &DisputeResolved{}
	default:
		return nil, Errorf(CodeValidation, "unknown ledger event type %q", e.Type)
	}

	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, Wrap(CodeValidation, fmt.Sprintf("malformed %s payload", e.Type), err)
	}
	if _, err := ParsePropertyID(string(p.Property())); err != nil {
		return nil, err
	}
	return p, nil
}

// NewLedgerEvent wraps a payload in an envelope
func NewLedgerEvent(eventID string, blockNumber uint64, txID string, ts time.Time, payload EventPayload) (*LedgerEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return &LedgerEvent{
		EventID:     eventID,
		Type:        payload.Kind(),
		BlockNumber: blockNumber,
		TxID:        txID,
		StateCode:   payload.Property().StateCode(),
		Timestamp:   ts,
		Payload:     raw,
	}, nil
}
