package disburser

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/fanout"
)

// DistributeNative sends amounts[i] of native currency to recipients[i]. The
// deposit must be exactly the sum of amounts and the signer must have a quota
// slot per recipient. Slots are spent before the transfers start, slots of
// failed transfers are returned during reconciliation together with their
// funds.
func (s *Service) DistributeNative(ctx context.Context, call Call, recipients []string, amounts []*uint256.Int) (*Receipt[Settlement], error) {
	legs, err := makeLegs(recipients, amounts)
	if err != nil {
		return nil, err
	}

	total, err := common.Sum(amounts)
	if err != nil {
		return nil, err
	}

	if !total.Eq(call.deposit()) {
		return nil, fmt.Errorf("%w: attached %s, transfers need %s",
			common.ErrValidation, common.FormatAmount(call.deposit()), common.FormatAmount(total))
	}

	err = s.exec(func(tx *txn) error {
		return s.reserve(tx, call.Signer, len(legs))
	})
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, fanout.Request{
		Kind:      fanout.Native,
		Requester: call.Signer,
		Legs:      legs,
	}, func(ctx context.Context, id uuid.UUID, i int, leg fanout.Leg) error {
		return s.native.Transfer(ctx, leg.Recipient, leg.Amount, common.TransferDetails(common.NativeLegDetails, id, i))
	})
}

// reserve debits n quota slots of the account.
func (s *Service) reserve(tx *txn, account string, n int) error {
	if _, err := tx.owner(); err != nil {
		return err
	}
	if account == "" {
		return fmt.Errorf("%w: missing signer", common.ErrValidation)
	}

	_, err := tx.quota.Debit(account, uint256.NewInt(uint64(n)))
	return err
}

func makeLegs(recipients []string, amounts []*uint256.Int) ([]fanout.Leg, error) {
	if len(recipients) != len(amounts) {
		return nil, fmt.Errorf("%w: %d recipients, %d amounts", common.ErrValidation, len(recipients), len(amounts))
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients", common.ErrValidation)
	}
	if err := common.CheckLegs(len(recipients)); err != nil {
		return nil, err
	}

	legs := make([]fanout.Leg, len(recipients))
	for i := range recipients {
		if recipients[i] == "" {
			return nil, fmt.Errorf("%w: empty recipient #%d", common.ErrValidation, i)
		}
		if amounts[i] == nil {
			return nil, fmt.Errorf("%w: missing amount #%d", common.ErrValidation, i)
		}
		legs[i] = fanout.Leg{Recipient: recipients[i], Amount: amounts[i]}
	}

	return legs, nil
}
