package disburser

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"go.uber.org/zap"
)

const pendingRefundKey = 'r'

// PendingRefund is a refund whose transfer failed. It is kept until
// RetryRefunds delivers it.
type PendingRefund struct {
	// ID is the orchestration the refund belongs to.
	ID     uuid.UUID
	To     string
	Amount *uint256.Int
}

// Memo returns transfer details the refund is sent with.
func (p PendingRefund) Memo() string {
	return common.TransferDetails(common.RefundDetails, p.ID, 0)
}

func pendingRefundStorageKey(id uuid.UUID) []byte {
	return common.Key(pendingRefundKey, id[:])
}

func (p PendingRefund) toStackItem() stackitem.Item {
	return stackitem.NewStruct([]stackitem.Item{
		stackitem.NewByteArray([]byte(p.To)),
		stackitem.NewBigInteger(p.Amount.ToBig()),
	})
}

func (p *PendingRefund) fromStackItem(item stackitem.Item) error {
	arr, ok := item.Value().([]stackitem.Item)
	if !ok || len(arr) != 2 {
		return errors.New("invalid pending refund structure")
	}

	to, err := arr[0].TryBytes()
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}

	bi, err := arr[1].TryInteger()
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	if bi.Sign() < 0 {
		return fmt.Errorf("negative amount %s", bi)
	}

	amount, overflow := uint256.FromBig(bi)
	if overflow {
		return fmt.Errorf("amount %s overflows 256 bits", bi)
	}

	p.To, p.Amount = string(to), amount

	return nil
}

// refund returns amount to the requester of orchestration id. Failed transfer
// is stored as pending refund and its error is returned.
func (s *Service) refund(ctx context.Context, id uuid.UUID, to string, amount *uint256.Int) error {
	p := PendingRefund{ID: id, To: to, Amount: amount}

	err := s.native.Transfer(ctx, to, amount, p.Memo())
	if err == nil {
		return nil
	}

	s.log.Error("refund transfer failed, keeping it for retry",
		zap.Stringer("id", id),
		zap.String("to", to),
		zap.String("amount", common.FormatFixed(amount, gasPrecision)),
		zap.Error(err))

	saveErr := s.exec(func(tx *txn) error {
		return common.SetSerialized(tx.st, pendingRefundStorageKey(id), p.toStackItem())
	})
	if saveErr != nil {
		s.log.Error("can't store pending refund", zap.Stringer("id", id), zap.Error(saveErr))
	}

	return err
}

func readPendingRefunds(st *storage.MemCachedStore) ([]PendingRefund, error) {
	var (
		res []PendingRefund
		err error
	)

	st.Seek(storage.SeekRange{Prefix: []byte{pendingRefundKey}}, func(k, v []byte) bool {
		var p PendingRefund

		p.ID, err = uuid.FromBytes(k[1:])
		if err != nil {
			err = fmt.Errorf("pending refund key %x: %w", k, err)
			return false
		}

		var item stackitem.Item
		item, err = stackitem.Deserialize(v)
		if err == nil {
			err = p.fromStackItem(item)
		}
		if err != nil {
			err = fmt.Errorf("pending refund %s: %w", p.ID, err)
			return false
		}

		res = append(res, p)
		return true
	})

	return res, err
}

// PendingRefunds returns refunds waiting for retry.
func (s *Service) PendingRefunds() ([]PendingRefund, error) {
	var res []PendingRefund
	err := s.read(func(tx *txn) (err error) {
		res, err = readPendingRefunds(tx.st)
		return
	})
	return res, err
}

// RetryRefunds transfers pending refunds again and forgets delivered ones.
// It returns the number of delivered refunds. Failed transfers stay pending.
func (s *Service) RetryRefunds(ctx context.Context) (int, error) {
	s.retryMtx.Lock()
	defer s.retryMtx.Unlock()

	pending, err := s.PendingRefunds()
	if err != nil {
		return 0, err
	}

	var delivered int
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		if err := s.native.Transfer(ctx, p.To, p.Amount, p.Memo()); err != nil {
			s.log.Warn("refund retry failed",
				zap.Stringer("id", p.ID),
				zap.String("to", p.To),
				zap.Error(err))
			continue
		}

		err := s.exec(func(tx *txn) error {
			tx.st.Delete(pendingRefundStorageKey(p.ID))
			return nil
		})
		if err != nil {
			return delivered, fmt.Errorf("forget delivered refund %s: %w", p.ID, err)
		}

		delivered++
		s.log.Info("pending refund delivered",
			zap.Stringer("id", p.ID),
			zap.String("to", p.To),
			zap.String("amount", common.FormatFixed(p.Amount, gasPrecision)))
	}

	return delivered, nil
}
