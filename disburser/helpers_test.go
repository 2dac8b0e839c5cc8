package disburser

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/events"
	"github.com/nspcc-dev/disburser/fee"
	"github.com/nspcc-dev/disburser/quota"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	self     = "service"
	owner    = "owner"
	oracleID = "priceoracle"
	provider = "provider"
)

var errTransfer = errors.New("transfer failed")

type transfer struct {
	Token  string
	To     string
	Amount *uint256.Int
	Memo   string
}

// testLedger implements NativeLedger, TokenLedger and Registrar. Operations
// involving recipients from fail are rejected.
type testLedger struct {
	mtx       sync.Mutex
	fail      map[string]bool
	transfers []transfer
}

func (l *testLedger) failFor(accounts ...string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.fail == nil {
		l.fail = make(map[string]bool)
	}
	for _, a := range accounts {
		l.fail[a] = true
	}
}

func (l *testLedger) recoverFor(accounts ...string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	for _, a := range accounts {
		delete(l.fail, a)
	}
}

func (l *testLedger) record(tr transfer) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.fail[tr.To] {
		return errTransfer
	}
	l.transfers = append(l.transfers, tr)
	return nil
}

func (l *testLedger) list() []transfer {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return append([]transfer(nil), l.transfers...)
}

// to returns the total successfully transferred to the account.
func (l *testLedger) to(account string) *uint256.Int {
	res := new(uint256.Int)
	for _, tr := range l.list() {
		if tr.To == account {
			res.Add(res, tr.Amount)
		}
	}
	return res
}

type nativeLedger struct{ *testLedger }

func (l nativeLedger) Transfer(_ context.Context, to string, amount *uint256.Int, memo string) error {
	return l.record(transfer{To: to, Amount: amount, Memo: memo})
}

type tokenLedger struct{ *testLedger }

func (l tokenLedger) Transfer(_ context.Context, token, to string, amount *uint256.Int, memo string) error {
	return l.record(transfer{Token: token, To: to, Amount: amount, Memo: memo})
}

type registrar struct{ *testLedger }

func (l registrar) Register(_ context.Context, token, account string, fee *uint256.Int) error {
	return l.record(transfer{Token: token, To: account, Amount: fee})
}

type testOracle struct {
	mtx   sync.Mutex
	quote fee.Quote
	err   error
	calls []string
}

func (o *testOracle) set(price uint64, decimals uint32, err error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.quote = fee.Quote{Price: uint256.NewInt(price), Decimals: decimals, LastUpdate: 1}
	o.err = err
}

func (o *testOracle) GetEntry(_ context.Context, service, pair, provider string) (fee.Quote, error) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.calls = append(o.calls, service+"/"+pair+"/"+provider)
	return o.quote, o.err
}

type env struct {
	s      *Service
	store  storage.Store
	native *testLedger
	tokens *testLedger
	reg    *testLedger
	oracle *testOracle
	events *events.Recorder
}

func newEnv(t *testing.T) *env {
	e := &env{
		store:  storage.NewMemoryStore(),
		native: new(testLedger),
		tokens: new(testLedger),
		reg:    new(testLedger),
		oracle: new(testOracle),
		events: new(events.Recorder),
	}
	e.oracle.set(100, 8, nil)

	var err error
	e.s, err = New(Prm{
		Self:      self,
		Store:     e.store,
		Oracle:    e.oracle,
		Native:    nativeLedger{e.native},
		Tokens:    tokenLedger{e.tokens},
		Registrar: registrar{e.reg},
		Emitter:   e.events,
		Logger:    zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(e.s.Wait)

	return e
}

func newInitializedEnv(t *testing.T) *env {
	e := newEnv(t)
	require.NoError(t, e.s.Initialize(Call{Sender: owner, Signer: owner}, oracleID, provider))
	return e
}

func (e *env) giveQuota(t *testing.T, account string, n uint64) {
	st := storage.NewMemCachedStore(e.store)
	_, err := quota.New(st).Credit(account, uint256.NewInt(n))
	require.NoError(t, err)
	_, err = st.Persist()
	require.NoError(t, err)
}

func (e *env) requireQuota(t *testing.T, account string, exp uint64) {
	v, err := e.s.Quota(account)
	require.NoError(t, err)
	require.Equal(t, exp, v.Uint64())
}

func amounts(vs ...uint64) []*uint256.Int {
	res := make([]*uint256.Int, len(vs))
	for i := range vs {
		res[i] = uint256.NewInt(vs[i])
	}
	return res
}

func deposit(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func waitSettlement(t *testing.T, r *Receipt[Settlement]) Settlement {
	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	return res
}
