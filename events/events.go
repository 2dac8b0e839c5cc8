/*
Package events describes records emitted by the disbursement service.

Every record is a NEP-297 structured event rendered as a single line:

	EVENT_JSON:{"standard":"nep297","version":"1.0.0","event":"<tag>","data":{...}}

Amounts and quotas are decimal strings. Field names are stable, new fields may
only be appended.

# Events

	update_fee
	  - old_service_fee: previously observed oracle fee per address
	  - new_service_fee: new oracle fee per address
	  - oracle_id: oracle service the fee was quoted by

	set_oracle_id
	  - old_oracle_id: previous oracle configuration
	  - new_oracle_id: new oracle configuration
	  - owner_id: owner who authorized the change

	pay_fee
	  - amount: attached payment
	  - refund: part of the payment returned to the user
	  - user_id: payer
	  - old_quota: quota before the payment
	  - new_quota: quota after the payment

	refund_near
	  - refund_amount: amount returned to the user
	  - user_id: recipient of the refund
*/
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
)

// Header values of every record.
const (
	Standard = "nep297"
	Version  = "1.0.0"

	// Prefix starts textual representation of the record.
	Prefix = "EVENT_JSON:"
)

// Event tags.
const (
	FeeUpdatedTag          = "update_fee"
	OracleConfigChangedTag = "set_oracle_id"
	FeePaidTag             = "pay_fee"
	RefundedTag            = "refund_near"
)

// Event is a payload of the record.
type Event interface {
	Tag() string
}

// FeeUpdated is emitted when the oracle quote changes fee per address.
type FeeUpdated struct {
	OldServiceFee string `json:"old_service_fee"`
	NewServiceFee string `json:"new_service_fee"`
	OracleID      string `json:"oracle_id"`
}

// OracleConfigChanged is emitted when the owner replaces oracle configuration.
type OracleConfigChanged struct {
	OldOracleID string `json:"old_oracle_id"`
	NewOracleID string `json:"new_oracle_id"`
	OwnerID     string `json:"owner_id"`
}

// FeePaid is emitted when service fee payment is accepted.
type FeePaid struct {
	Amount   string `json:"amount"`
	Refund   string `json:"refund"`
	UserID   string `json:"user_id"`
	OldQuota string `json:"old_quota"`
	NewQuota string `json:"new_quota"`
}

// Refunded is emitted when some amount is returned to the user.
type Refunded struct {
	RefundAmount string `json:"refund_amount"`
	UserID       string `json:"user_id"`
}

func (FeeUpdated) Tag() string          { return FeeUpdatedTag }
func (OracleConfigChanged) Tag() string { return OracleConfigChangedTag }
func (FeePaid) Tag() string             { return FeePaidTag }
func (Refunded) Tag() string            { return RefundedTag }

// NewFeeUpdated constructs FeeUpdated event.
func NewFeeUpdated(old, cur *uint256.Int, oracle string) FeeUpdated {
	return FeeUpdated{
		OldServiceFee: common.FormatAmount(old),
		NewServiceFee: common.FormatAmount(cur),
		OracleID:      oracle,
	}
}

// NewFeePaid constructs FeePaid event.
func NewFeePaid(amount, refund *uint256.Int, user string, oldQuota, newQuota *uint256.Int) FeePaid {
	return FeePaid{
		Amount:   common.FormatAmount(amount),
		Refund:   common.FormatAmount(refund),
		UserID:   user,
		OldQuota: common.FormatAmount(oldQuota),
		NewQuota: common.FormatAmount(newQuota),
	}
}

// NewRefunded constructs Refunded event.
func NewRefunded(amount *uint256.Int, user string) Refunded {
	return Refunded{RefundAmount: common.FormatAmount(amount), UserID: user}
}

// Log is a versioned event record.
type Log struct {
	Standard string
	Version  string
	Event    Event
}

// New wraps event into the record with current header.
func New(e Event) Log {
	return Log{Standard: Standard, Version: Version, Event: e}
}

type wireLog struct {
	Standard string          `json:"standard"`
	Version  string          `json:"version"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (l Log) MarshalJSON() ([]byte, error) {
	if l.Event == nil {
		return nil, errors.New("missing event")
	}

	data, err := json.Marshal(l.Event)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", l.Event.Tag(), err)
	}

	return json.Marshal(wireLog{
		Standard: l.Standard,
		Version:  l.Version,
		Event:    l.Event.Tag(),
		Data:     data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *Log) UnmarshalJSON(b []byte) error {
	var w wireLog
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var e Event
	switch w.Event {
	case FeeUpdatedTag:
		e = new(FeeUpdated)
	case OracleConfigChangedTag:
		e = new(OracleConfigChanged)
	case FeePaidTag:
		e = new(FeePaid)
	case RefundedTag:
		e = new(Refunded)
	default:
		return fmt.Errorf("unknown event %q", w.Event)
	}

	if err := json.Unmarshal(w.Data, e); err != nil {
		return fmt.Errorf("decode %s data: %w", w.Event, err)
	}

	l.Standard = w.Standard
	l.Version = w.Version
	// Keep payloads as values so that records compare equal to constructed ones.
	switch v := e.(type) {
	case *FeeUpdated:
		l.Event = *v
	case *OracleConfigChanged:
		l.Event = *v
	case *FeePaid:
		l.Event = *v
	case *Refunded:
		l.Event = *v
	}

	return nil
}

// String returns 'EVENT_JSON:'-prefixed line.
func (l Log) String() string {
	b, err := json.Marshal(l)
	if err != nil {
		return Prefix + "null"
	}
	return Prefix + string(b)
}

// Parse decodes line produced by Log.String.
func Parse(s string) (Log, error) {
	body, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return Log{}, fmt.Errorf("missing %s prefix", Prefix)
	}

	var l Log
	if err := json.Unmarshal([]byte(body), &l); err != nil {
		return Log{}, fmt.Errorf("decode event: %w", err)
	}

	return l, nil
}
