package disburser

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/fanout"
)

// Token transfer message delimiters.
const (
	legDelimiter    = "#"
	amountDelimiter = ":"
)

// ParseTransferMessage parses 'acct1:amt1#acct2:amt2' message attached to the
// inbound token transfer.
func ParseTransferMessage(msg string) ([]fanout.Leg, error) {
	if msg == "" {
		return nil, fmt.Errorf("%w: empty transfer message", common.ErrValidation)
	}

	if err := common.CheckLegs(strings.Count(msg, legDelimiter) + 1); err != nil {
		return nil, err
	}

	parts := strings.Split(msg, legDelimiter)
	legs := make([]fanout.Leg, 0, len(parts))

	for i, p := range parts {
		recipient, amount, ok := strings.Cut(p, amountDelimiter)
		if !ok || recipient == "" {
			return nil, fmt.Errorf("%w: invalid transfer #%d %q", common.ErrValidation, i, p)
		}

		v, err := common.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("transfer #%d: %w", i, err)
		}

		legs = append(legs, fanout.Leg{Recipient: recipient, Amount: v})
	}

	return legs, nil
}

// OnTokenReceived handles notification of the token ledger (call.Sender)
// about amount of tokens received from sender and distributes them according
// to msg. Sender must be the signer of the transfer and must have a quota slot
// per recipient.
//
// Refund of the settlement is the amount of failed legs the token ledger is
// expected to return to the sender. The service can't enforce the reversal,
// it only restores the quota.
func (s *Service) OnTokenReceived(ctx context.Context, call Call, sender string, amount *uint256.Int, msg string) (*Receipt[Settlement], error) {
	if call.Sender == "" {
		return nil, fmt.Errorf("%w: unknown token ledger", common.ErrValidation)
	}
	if err := common.CheckSigner(call.Signer, sender); err != nil {
		return nil, err
	}

	legs, err := ParseTransferMessage(msg)
	if err != nil {
		return nil, err
	}

	amounts := make([]*uint256.Int, len(legs))
	for i := range legs {
		amounts[i] = legs[i].Amount
	}

	total, err := common.Sum(amounts)
	if err != nil {
		return nil, err
	}

	if amount == nil || !total.Eq(amount) {
		return nil, fmt.Errorf("%w: received %s tokens, message distributes %s",
			common.ErrValidation, common.FormatAmount(amount), common.FormatAmount(total))
	}

	err = s.exec(func(tx *txn) error {
		return s.reserve(tx, sender, len(legs))
	})
	if err != nil {
		return nil, err
	}

	token := call.Sender

	return s.dispatch(ctx, fanout.Request{
		Kind:      fanout.Token,
		Requester: sender,
		Asset:     token,
		Legs:      legs,
	}, func(ctx context.Context, id uuid.UUID, i int, leg fanout.Leg) error {
		return s.tokens.Transfer(ctx, token, leg.Recipient, leg.Amount, common.TransferDetails(common.TokenLegDetails, id, i))
	})
}
