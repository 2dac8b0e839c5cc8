/*
Package quota keeps the number of disbursement slots available to each
account.

Values are stored under 'q' || account in the Neo VM integer encoding. Absent
entry reads as zero, entries are never deleted.
*/
package quota

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
)

const prefix = 'q'

// Ledger is an account -> quota mapping over a key-value store. It has no
// internal synchronization, callers serialize access.
type Ledger struct {
	st common.Store
}

// New returns Ledger reading and writing through st.
func New(st common.Store) *Ledger {
	return &Ledger{st: st}
}

func key(account string) []byte {
	return common.Key(prefix, []byte(account))
}

// Get returns the current quota of the account, 0 if it has never been set.
func (l *Ledger) Get(account string) (*uint256.Int, error) {
	v, err := common.GetInt(l.st, key(account))
	if err != nil {
		return nil, fmt.Errorf("quota of %q: %w", account, err)
	}
	return v, nil
}

// Credit increases quota of the account by n and returns the new value.
func (l *Ledger) Credit(account string, n *uint256.Int) (*uint256.Int, error) {
	cur, err := l.Get(account)
	if err != nil {
		return nil, err
	}

	if _, overflow := cur.AddOverflow(cur, n); overflow {
		return nil, fmt.Errorf("%w: quota of %q overflows", common.ErrArithmetic, account)
	}

	common.PutInt(l.st, key(account), cur)

	return cur, nil
}

// Debit decreases quota of the account by n and returns the new value. It
// fails with common.ErrQuotaExceeded and leaves the entry untouched if the
// account has less than n slots.
func (l *Ledger) Debit(account string, n *uint256.Int) (*uint256.Int, error) {
	cur, err := l.Get(account)
	if err != nil {
		return nil, err
	}

	if cur.Lt(n) {
		return nil, fmt.Errorf("%w: %q has %s, needs %s",
			common.ErrQuotaExceeded, account, common.FormatAmount(cur), common.FormatAmount(n))
	}

	cur.Sub(cur, n)
	common.PutInt(l.st, key(account), cur)

	return cur, nil
}

// Seeker iterates over stored items. storage.Store and storage.MemCachedStore
// implement it.
type Seeker interface {
	Seek(rng storage.SeekRange, f func(k, v []byte) bool)
}

// Iterate calls f for every account having a quota entry in st, in key
// order, until f returns false.
func Iterate(st Seeker, f func(account string, v *uint256.Int) bool) error {
	var err error

	st.Seek(storage.SeekRange{Prefix: []byte{prefix}}, func(k, v []byte) bool {
		var q *uint256.Int
		q, err = common.DecodeInt(v)
		if err != nil {
			err = fmt.Errorf("quota of %q: %w", k[1:], err)
			return false
		}
		return f(string(k[1:]), q)
	})

	return err
}
