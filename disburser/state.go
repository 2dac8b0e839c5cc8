package disburser

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/quota"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
)

// State is a snapshot of the stored service state.
type State struct {
	Owner   string
	Oracle  OracleConfig
	Version int
	// LastFee is the last observed oracle fee per address, 0 if the oracle
	// has never been queried.
	LastFee *uint256.Int
	Quotas  map[string]*uint256.Int
	// PendingRefunds are refunds waiting for retry.
	PendingRefunds []PendingRefund
}

// ReadState reads service state directly from the store. It must not be used
// on a store served by a running Service.
func ReadState(st storage.Store) (State, error) {
	return readState(storage.NewMemCachedStore(st))
}

func readState(st *storage.MemCachedStore) (State, error) {
	var (
		res State
		err error
		tx  = &txn{st: st, quota: quota.New(st)}
	)

	if res.Owner, err = tx.owner(); err != nil {
		return res, err
	}
	if res.Oracle, err = tx.oracleConfig(); err != nil {
		return res, err
	}

	v, err := common.GetInt(st, []byte{versionKey})
	if err != nil {
		return res, fmt.Errorf("read version: %w", err)
	}
	res.Version = int(v.Uint64())

	if res.LastFee, err = common.GetInt(st, []byte{lastFeeKey}); err != nil {
		return res, fmt.Errorf("read last fee: %w", err)
	}

	res.Quotas = make(map[string]*uint256.Int)
	err = quota.Iterate(st, func(account string, v *uint256.Int) bool {
		res.Quotas[account] = v
		return true
	})
	if err != nil {
		return res, err
	}

	res.PendingRefunds, err = readPendingRefunds(st)

	return res, err
}

// State returns a snapshot of the service state.
func (s *Service) State() (State, error) {
	var res State
	err := s.read(func(tx *txn) (err error) {
		res, err = readState(tx.st)
		return
	})
	return res, err
}
