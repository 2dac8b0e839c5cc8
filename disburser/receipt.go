package disburser

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/fanout"
)

// Receipt is a handle of the request settled asynchronously.
type Receipt[T any] struct {
	o *fanout.Orchestration
}

// ID returns identifier of the underlying orchestration. Outgoing transfers of
// the request carry it in their memo.
func (r *Receipt[T]) ID() uuid.UUID {
	return r.o.ID()
}

// Done returns channel closed when the request is settled.
func (r *Receipt[T]) Done() <-chan struct{} {
	return r.o.Done()
}

// Wait blocks until the request is settled or ctx is done.
func (r *Receipt[T]) Wait(ctx context.Context) (T, error) {
	var zero T

	v, err := r.o.Wait(ctx)
	if err != nil {
		return zero, err
	}

	res, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected settlement type %T", v)
	}

	return res, nil
}

// Settlement is the result of batch reconciliation.
type Settlement struct {
	ID        uuid.UUID
	Kind      fanout.Kind
	Requester string
	// Legs are outcomes ordered by leg index.
	Legs   []fanout.Outcome
	Failed int
	// Refund is the amount of failed legs. For token batches it is returned
	// to the token ledger which is expected to give it back to the sender.
	Refund *uint256.Int
	// QuotaRestored is the number of slots credited back.
	QuotaRestored int
	// RefundErr is set if the refund transfer failed after state was
	// reconciled. Such refund stays pending until RetryRefunds delivers it.
	RefundErr error
}

// Delivered returns the sum of successful leg amounts.
func (s Settlement) Delivered(legs []fanout.Leg) *uint256.Int {
	res := new(uint256.Int)
	for _, o := range s.Legs {
		if !o.Failed() {
			res.Add(res, legs[o.Leg].Amount)
		}
	}
	return res
}

// FeeSettlement is the result of service fee payment.
type FeeSettlement struct {
	ID    uuid.UUID
	Payer string
	// OracleFee is fee per address calculated from the quote, nil if there is
	// no valid quote.
	OracleFee *uint256.Int
	Accepted  bool
	Slots     *uint256.Int
	Refund    *uint256.Int
	// Quota is the payer's quota after the payment.
	Quota *uint256.Int
	// Reason explains why the whole payment was refunded.
	Reason error
	// RefundErr is set if the refund transfer failed, the refund stays
	// pending then.
	RefundErr error
}
