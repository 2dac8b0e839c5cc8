package disburser

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/events"
	"github.com/nspcc-dev/disburser/fanout"
	"github.com/nspcc-dev/disburser/fee"
	"github.com/nspcc-dev/disburser/metrics"
	"go.uber.org/zap"
)

// ErrFeeOutOfBand is the reason of the refund when the estimated fee differs
// from the oracle fee too much.
var ErrFeeOutOfBand = errors.New("estimated fee is out of tolerance band")

// PayServiceFee buys quota with the deposit. Price quote is requested from the
// configured oracle first, nothing is changed until it arrives. If the
// estimated fee per address is within the tolerance band of the oracle fee,
// deposit/estimated slots are credited and the remainder is refunded.
// Otherwise, as well as when the quote can't be obtained or used, the whole
// deposit is refunded.
func (s *Service) PayServiceFee(ctx context.Context, call Call, estimated *uint256.Int) (*Receipt[FeeSettlement], error) {
	switch {
	case estimated == nil || estimated.IsZero():
		return nil, fmt.Errorf("%w: zero estimated fee", common.ErrValidation)
	case call.deposit().IsZero():
		return nil, fmt.Errorf("%w: no payment attached", common.ErrValidation)
	case call.Signer == "":
		return nil, fmt.Errorf("%w: missing signer", common.ErrValidation)
	}

	var cfg OracleConfig
	err := s.read(func(tx *txn) (err error) {
		cfg, err = tx.oracleConfig()
		return
	})
	if err != nil {
		return nil, err
	}

	estimated = estimated.Clone()

	// Written by the only leg, read by the continuation after the barrier.
	var quote fee.Quote

	o, err := s.registry.Register(fanout.Request{
		Kind:      fanout.Fee,
		Requester: call.Signer,
		Asset:     cfg.ServiceID,
		Legs:      []fanout.Leg{{Recipient: cfg.ProviderID, Amount: call.deposit().Clone()}},
	}, func(ctx context.Context, o *fanout.Orchestration, outcomes []fanout.Outcome) (any, error) {
		return s.settleFee(ctx, o, cfg, estimated, quote, outcomes[0].Err)
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("requesting price quote",
		zap.Stringer("id", o.ID()),
		zap.Stringer("oracle", cfg),
		zap.String("pair", s.params.Pair))

	s.registry.Dispatch(ctx, o, func(ctx context.Context, _ uuid.UUID, _ int, _ fanout.Leg) error {
		q, err := s.oracle.GetEntry(ctx, cfg.ServiceID, s.params.Pair, cfg.ProviderID)
		if err != nil {
			return err
		}
		quote = q
		return nil
	})

	return &Receipt[FeeSettlement]{o: o}, nil
}

func (s *Service) settleFee(ctx context.Context, o *fanout.Orchestration, cfg OracleConfig,
	estimated *uint256.Int, q fee.Quote, quoteErr error) (FeeSettlement, error) {
	req := o.Request()
	payer, amount := req.Requester, req.Legs[0].Amount

	res := FeeSettlement{
		ID:     o.ID(),
		Payer:  payer,
		Slots:  new(uint256.Int),
		Refund: new(uint256.Int),
	}

	var d fee.Decision
	decision := metrics.FeeAccepted

	if quoteErr != nil {
		res.Reason = fmt.Errorf("price quote: %w", quoteErr)
		decision = metrics.FeeQuoteFailed
	} else {
		var err error
		d, err = s.params.Evaluate(q, estimated, amount)
		switch {
		case err != nil:
			res.Reason = err
			decision = metrics.FeeInvalid
		case !d.Accepted:
			res.OracleFee = d.OracleFee
			res.Reason = fmt.Errorf("%w: estimated %s, oracle %s", ErrFeeOutOfBand,
				common.FormatAmount(estimated), common.FormatAmount(d.OracleFee))
			decision = metrics.FeeRejected
		default:
			res.OracleFee = d.OracleFee
		}
	}

	err := s.exec(func(tx *txn) error {
		if res.OracleFee != nil {
			last, err := common.GetInt(tx.st, []byte{lastFeeKey})
			if err != nil {
				return fmt.Errorf("read last fee: %w", err)
			}
			if !last.Eq(res.OracleFee) {
				common.PutInt(tx.st, []byte{lastFeeKey}, res.OracleFee)
				tx.emit(events.NewFeeUpdated(last, res.OracleFee, cfg.String()))
			}
		}

		old, err := tx.quota.Get(payer)
		if err != nil {
			return err
		}

		if res.Reason == nil {
			cur, err := tx.quota.Credit(payer, d.Slots)
			switch {
			case err == nil:
				res.Accepted, res.Slots, res.Refund, res.Quota = true, d.Slots, d.Refund, cur
				tx.emit(events.NewFeePaid(amount, d.Refund, payer, old, cur))
				return nil
			case errors.Is(err, common.ErrArithmetic):
				res.Reason = err
				decision = metrics.FeeInvalid
			default:
				return err
			}
		}

		res.Refund, res.Quota = amount.Clone(), old
		tx.emit(events.NewRefunded(amount, payer))

		return nil
	})
	if err != nil {
		s.log.Error("service fee settlement failed", zap.Stringer("id", o.ID()), zap.Error(err))
		return res, err
	}

	s.metrics.FeeDecision(decision)

	if res.Reason != nil {
		s.log.Info("service fee refunded",
			zap.Stringer("id", o.ID()),
			zap.String("payer", payer),
			zap.String("amount", common.FormatFixed(amount, gasPrecision)),
			zap.Error(res.Reason))
	} else {
		s.log.Info("service fee paid",
			zap.Stringer("id", o.ID()),
			zap.String("payer", payer),
			zap.String("slots", common.FormatAmount(res.Slots)),
			zap.String("fee", common.FormatFixed(res.OracleFee, gasPrecision)))
	}

	if !res.Refund.IsZero() {
		res.RefundErr = s.refund(ctx, o.ID(), payer, res.Refund)
	}

	return res, nil
}

// QuoteFee returns the current fee per address calculated from the oracle
// quote. Clients use it as the estimation for PayServiceFee.
func (s *Service) QuoteFee(ctx context.Context) (*uint256.Int, error) {
	cfg, err := s.OracleConfig()
	if err != nil {
		return nil, err
	}

	q, err := s.oracle.GetEntry(ctx, cfg.ServiceID, s.params.Pair, cfg.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("price quote: %w", err)
	}

	return s.params.OracleFee(q)
}
