/*
Package ledger moves disbursed funds on Neo.

Native currency is GAS, tokens are NEP-17 contracts. Every leg is a separate
transaction signed by the service account and awaited before the leg is
reported. Memo passed with a leg becomes the data of the NEP-17 transfer.
Account registration is a GAS payment to the token contract carrying the
registered account as data.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/nep17"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"go.uber.org/zap"
)

// ErrFault is returned when a transfer transaction is accepted by the network
// but its execution fails.
var ErrFault = errors.New("transaction faulted")

// Actor signs, sends and awaits service transactions.
type Actor interface {
	nep17.Actor

	Sender() util.Uint160
	WaitAny(ctx context.Context, vub uint32, hashes ...util.Uint256) (*state.AppExecResult, error)
}

type sender struct {
	actor Actor
	log   *zap.Logger
}

func newSender(a Actor, log *zap.Logger) sender {
	if log == nil {
		log = zap.NewNop()
	}
	return sender{actor: a, log: log}
}

func (s sender) transfer(ctx context.Context, token, to util.Uint160, amount *uint256.Int, data any) error {
	tok := nep17.New(s.actor, token)

	h, vub, err := tok.Transfer(s.actor.Sender(), to, amount.ToBig(), data)
	if err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}

	res, err := s.actor.WaitAny(ctx, vub, h)
	if err != nil {
		return fmt.Errorf("await transaction %s: %w", h.StringLE(), err)
	}
	if res.VMState != vmstate.Halt {
		return fmt.Errorf("%w: %s: %s", ErrFault, h.StringLE(), res.FaultException)
	}

	s.log.Debug("transfer persisted",
		zap.Stringer("token", token),
		zap.Stringer("to", to),
		zap.String("amount", common.FormatAmount(amount)),
		zap.Stringer("tx", h))

	return nil
}

// Native transfers GAS from the service account.
type Native struct {
	sender
}

// NewNative returns Native sending transactions via the given Actor.
func NewNative(a Actor, log *zap.Logger) *Native {
	return &Native{newSender(a, log)}
}

// Transfer implements disburser.NativeLedger.
func (n *Native) Transfer(ctx context.Context, to string, amount *uint256.Int, memo string) error {
	h, err := common.ScriptHash(to)
	if err != nil {
		return err
	}
	return n.transfer(ctx, gas.Hash, h, amount, memo)
}

// Tokens transfers NEP-17 tokens held by the service account.
type Tokens struct {
	sender
}

// NewTokens returns Tokens sending transactions via the given Actor.
func NewTokens(a Actor, log *zap.Logger) *Tokens {
	return &Tokens{newSender(a, log)}
}

// Transfer implements disburser.TokenLedger.
func (t *Tokens) Transfer(ctx context.Context, token, to string, amount *uint256.Int, memo string) error {
	th, err := common.ScriptHash(token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	h, err := common.ScriptHash(to)
	if err != nil {
		return err
	}
	return t.transfer(ctx, th, h, amount, memo)
}

// Registrar pays account registration fees in GAS.
type Registrar struct {
	sender
}

// NewRegistrar returns Registrar sending transactions via the given Actor.
func NewRegistrar(a Actor, log *zap.Logger) *Registrar {
	return &Registrar{newSender(a, log)}
}

// Register implements disburser.Registrar.
func (r *Registrar) Register(ctx context.Context, token, account string, fee *uint256.Int) error {
	th, err := common.ScriptHash(token)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	h, err := common.ScriptHash(account)
	if err != nil {
		return err
	}
	return r.transfer(ctx, gas.Hash, th, fee, h)
}
