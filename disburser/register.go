package disburser

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/fanout"
)

// BatchRegister pays registration fee on the token ledger for every account.
// The deposit must be exactly fee*len(accounts). Quota is not involved. Fees
// of failed registrations are refunded to the signer, successful
// registrations stay.
func (s *Service) BatchRegister(ctx context.Context, call Call, token string, accounts []string, fee *uint256.Int) (*Receipt[Settlement], error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token ledger", common.ErrValidation)
	}
	if call.Signer == "" {
		return nil, fmt.Errorf("%w: missing signer", common.ErrValidation)
	}
	if fee == nil {
		return nil, fmt.Errorf("%w: missing registration fee", common.ErrValidation)
	}

	fees := make([]*uint256.Int, len(accounts))
	for i := range fees {
		fees[i] = fee
	}

	legs, err := makeLegs(accounts, fees)
	if err != nil {
		return nil, err
	}

	total, err := common.MulCount(fee, len(legs))
	if err != nil {
		return nil, err
	}

	if !total.Eq(call.deposit()) {
		return nil, fmt.Errorf("%w: attached %s, registrations need %s",
			common.ErrValidation, common.FormatAmount(call.deposit()), common.FormatAmount(total))
	}

	err = s.exec(func(tx *txn) error {
		_, err := tx.owner()
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, fanout.Request{
		Kind:      fanout.Register,
		Requester: call.Signer,
		Asset:     token,
		Legs:      legs,
	}, func(ctx context.Context, _ uuid.UUID, _ int, leg fanout.Leg) error {
		return s.registrar.Register(ctx, token, leg.Recipient, leg.Amount)
	})
}
