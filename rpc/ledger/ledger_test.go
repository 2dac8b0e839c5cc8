package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testActor struct {
	sender  util.Uint160
	sendErr error
	waitErr error
	state   vmstate.State

	scripts [][]byte
	awaited []util.Uint256
}

func (a *testActor) Call(util.Uint160, string, ...any) (*result.Invoke, error) {
	return nil, errors.New("unexpected call")
}

func (a *testActor) MakeRun([]byte) (*transaction.Transaction, error) {
	return nil, errors.New("unexpected call")
}

func (a *testActor) MakeUnsignedRun([]byte, []transaction.Attribute) (*transaction.Transaction, error) {
	return nil, errors.New("unexpected call")
}

func (a *testActor) SendRun(script []byte) (util.Uint256, uint32, error) {
	if a.sendErr != nil {
		return util.Uint256{}, 0, a.sendErr
	}
	a.scripts = append(a.scripts, script)
	return util.Uint256{byte(len(a.scripts))}, 100, nil
}

func (a *testActor) Sender() util.Uint160 {
	return a.sender
}

func (a *testActor) WaitAny(_ context.Context, _ uint32, hashes ...util.Uint256) (*state.AppExecResult, error) {
	if a.waitErr != nil {
		return nil, a.waitErr
	}
	a.awaited = append(a.awaited, hashes...)
	return &state.AppExecResult{
		Container: hashes[0],
		Execution: state.Execution{VMState: a.state, FaultException: "boom"},
	}, nil
}

func newActor() *testActor {
	return &testActor{sender: util.Uint160{0xaa}, state: vmstate.Halt}
}

func requireScript(t *testing.T, script []byte, parts ...[]byte) {
	for _, p := range parts {
		require.True(t, bytes.Contains(script, p), "script misses %x", p)
	}
}

func TestNative(t *testing.T) {
	var (
		a    = newActor()
		n    = NewNative(a, zaptest.NewLogger(t))
		to   = util.Uint160{0xbb}
		ctx  = context.Background()
		memo = "memo"
	)

	require.NoError(t, n.Transfer(ctx, address.Uint160ToString(to), uint256.NewInt(5), memo))
	require.Len(t, a.scripts, 1)
	require.Equal(t, []util.Uint256{{1}}, a.awaited)
	requireScript(t, a.scripts[0], gas.Hash.BytesBE(), a.sender.BytesBE(), to.BytesBE(), []byte(memo), []byte("transfer"))

	err := n.Transfer(ctx, "nowhere", uint256.NewInt(5), memo)
	require.ErrorIs(t, err, common.ErrValidation)

	a.state = vmstate.Fault
	err = n.Transfer(ctx, address.Uint160ToString(to), uint256.NewInt(5), memo)
	require.ErrorIs(t, err, ErrFault)
	require.ErrorContains(t, err, "boom")

	a.waitErr = context.DeadlineExceeded
	err = n.Transfer(ctx, address.Uint160ToString(to), uint256.NewInt(5), memo)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a.sendErr = errors.New("insufficient funds")
	err = n.Transfer(ctx, address.Uint160ToString(to), uint256.NewInt(5), memo)
	require.ErrorContains(t, err, "insufficient funds")
}

func TestTokens(t *testing.T) {
	var (
		a     = newActor()
		tk    = NewTokens(a, nil)
		token = util.Uint160{0xcc}
		to    = util.Uint160{0xbb}
		ctx   = context.Background()
	)

	require.NoError(t, tk.Transfer(ctx, "0x"+token.StringLE(), address.Uint160ToString(to), uint256.NewInt(7), "memo"))
	require.Len(t, a.scripts, 1)
	requireScript(t, a.scripts[0], token.BytesBE(), to.BytesBE(), []byte("memo"))

	err := tk.Transfer(ctx, "", address.Uint160ToString(to), uint256.NewInt(7), "memo")
	require.ErrorIs(t, err, common.ErrValidation)

	err = tk.Transfer(ctx, "0x"+token.StringLE(), "", uint256.NewInt(7), "memo")
	require.ErrorIs(t, err, common.ErrValidation)
	require.Len(t, a.scripts, 1)
}

func TestRegistrar(t *testing.T) {
	var (
		a       = newActor()
		r       = NewRegistrar(a, zaptest.NewLogger(t))
		token   = util.Uint160{0xcc}
		account = util.Uint160{0xdd}
		ctx     = context.Background()
	)

	require.NoError(t, r.Register(ctx, "0x"+token.StringLE(), address.Uint160ToString(account), uint256.NewInt(3)))
	require.Len(t, a.scripts, 1)
	requireScript(t, a.scripts[0], gas.Hash.BytesBE(), token.BytesBE(), account.BytesBE())

	err := r.Register(ctx, "bad", address.Uint160ToString(account), uint256.NewInt(3))
	require.ErrorIs(t, err, common.ErrValidation)
}
