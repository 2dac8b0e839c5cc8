package disburser

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/events"
	"github.com/nspcc-dev/disburser/fanout"
	"go.uber.org/zap"
)

const gasPrecision = 8

// dispatch registers the batch and starts its legs. Quota reservation must be
// persisted by this moment.
func (s *Service) dispatch(ctx context.Context, req fanout.Request, exec fanout.Executor) (*Receipt[Settlement], error) {
	o, err := s.registry.Register(req, s.reconcile)
	if err != nil {
		return nil, err
	}

	s.metrics.Dispatched(string(req.Kind))
	s.log.Info("batch dispatched",
		zap.Stringer("id", o.ID()),
		zap.String("kind", string(req.Kind)),
		zap.String("requester", req.Requester),
		zap.Int("legs", len(req.Legs)))

	s.registry.Dispatch(ctx, o, exec)

	return &Receipt[Settlement]{o: o}, nil
}

// reconcile is the continuation of every batch. Failed legs are summed into
// the refund; native and token batches get quota of failed legs back.
func (s *Service) reconcile(ctx context.Context, o *fanout.Orchestration, outcomes []fanout.Outcome) (any, error) {
	req := o.Request()

	res := Settlement{
		ID:        o.ID(),
		Kind:      req.Kind,
		Requester: req.Requester,
		Legs:      outcomes,
		Refund:    new(uint256.Int),
	}

	for _, out := range outcomes {
		if out.Failed() {
			res.Failed++
			// Sum can't overflow, it is bounded by the validated batch total.
			res.Refund.Add(res.Refund, req.Legs[out.Leg].Amount)
		}
	}

	s.metrics.Reconciled(string(req.Kind), len(outcomes)-res.Failed, res.Failed)

	err := s.exec(func(tx *txn) error {
		if req.Kind != fanout.Register && res.Failed > 0 {
			if _, err := tx.quota.Credit(req.Requester, uint256.NewInt(uint64(res.Failed))); err != nil {
				return err
			}
			res.QuotaRestored = res.Failed
		}

		// Native batch reports every failure, others report non-zero refunds.
		if (req.Kind == fanout.Native && res.Failed > 0) || !res.Refund.IsZero() {
			tx.emit(events.NewRefunded(res.Refund, req.Requester))
		}

		return nil
	})
	if err != nil {
		s.log.Error("batch reconciliation failed", zap.Stringer("id", o.ID()), zap.Error(err))
		return res, err
	}

	s.log.Info("batch reconciled",
		zap.Stringer("id", o.ID()),
		zap.String("kind", string(req.Kind)),
		zap.Int("failed", res.Failed),
		zap.String("refund", common.FormatFixed(res.Refund, gasPrecision)))

	if res.Failed == 0 {
		return res, nil
	}
	s.metrics.Refunded(string(req.Kind))

	// Token ledger performs the reversal itself.
	if req.Kind != fanout.Token && !res.Refund.IsZero() {
		res.RefundErr = s.refund(ctx, o.ID(), req.Requester, res.Refund)
	}

	return res, nil
}
