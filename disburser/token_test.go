package disburser

import (
	"context"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/events"
	"github.com/nspcc-dev/disburser/fanout"
	"github.com/stretchr/testify/require"
)

const tokenHash = "token"

func TestParseTransferMessage(t *testing.T) {
	legs, err := ParseTransferMessage("a:10#b:20")
	require.NoError(t, err)
	require.Equal(t, []fanout.Leg{
		{Recipient: "a", Amount: uint256.NewInt(10)},
		{Recipient: "b", Amount: uint256.NewInt(20)},
	}, legs)

	legs, err = ParseTransferMessage("NbrUYaZgyhSkNoRo9ugRyEMdUZxrhkNaWB:1")
	require.NoError(t, err)
	require.Len(t, legs, 1)

	for _, msg := range []string{
		"",
		"a",
		"a:",
		":10",
		"a:10#",
		"a:10##b:1",
		"a:-1",
		"a:1.5",
		"a:10:20",
		"a:0x10",
	} {
		_, err := ParseTransferMessage(msg)
		require.ErrorIs(t, err, common.ErrValidation, msg)
	}

	t.Run("leg limit", func(t *testing.T) {
		msg := strings.Repeat("a:1#", common.MaxLegs-1) + "a:1"
		legs, err := ParseTransferMessage(msg)
		require.NoError(t, err)
		require.Len(t, legs, common.MaxLegs)

		_, err = ParseTransferMessage(msg + "#a:1")
		require.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestOnTokenReceived(t *testing.T) {
	e := newInitializedEnv(t)
	e.giveQuota(t, "alice", 3)
	e.tokens.failFor("bob")

	call := Call{Sender: tokenHash, Signer: "alice"}

	r, err := e.s.OnTokenReceived(context.Background(), call, "alice", uint256.NewInt(60), "carol:10#bob:20#dave:30")
	require.NoError(t, err)

	res := waitSettlement(t, r)
	require.Equal(t, fanout.Token, res.Kind)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, uint64(20), res.Refund.Uint64())
	require.Equal(t, 1, res.QuotaRestored)

	e.requireQuota(t, "alice", 1)

	trs := e.tokens.list()
	require.Len(t, trs, 2)
	for _, tr := range trs {
		require.Equal(t, tokenHash, tr.Token)
		kind, id, _, err := common.ParseTransferDetails(tr.Memo)
		require.NoError(t, err)
		require.Equal(t, common.TokenLegDetails, kind)
		require.Equal(t, r.ID(), id)
	}
	require.Equal(t, uint64(10), e.tokens.to("carol").Uint64())
	require.Equal(t, uint64(30), e.tokens.to("dave").Uint64())

	// Token ledger returns the tokens itself, no native refund.
	require.Empty(t, e.native.list())
	require.Equal(t, []events.Event{events.NewRefunded(uint256.NewInt(20), "alice")}, e.events.ByTag(events.RefundedTag))
}

func TestOnTokenReceivedAllSucceed(t *testing.T) {
	e := newInitializedEnv(t)
	e.giveQuota(t, "alice", 2)

	r, err := e.s.OnTokenReceived(context.Background(), Call{Sender: tokenHash, Signer: "alice"},
		"alice", uint256.NewInt(30), "a:10#b:20")
	require.NoError(t, err)

	res := waitSettlement(t, r)
	require.True(t, res.Refund.IsZero())
	e.requireQuota(t, "alice", 0)
	require.Empty(t, e.events.Logs())
}

func TestOnTokenReceivedRejected(t *testing.T) {
	e := newInitializedEnv(t)
	e.giveQuota(t, "alice", 2)

	for _, tc := range []struct {
		name   string
		call   Call
		sender string
		amount uint64
		msg    string
		err    error
	}{
		{"sender is not signer", Call{Sender: tokenHash, Signer: "mallory"}, "alice", 30, "a:10#b:20", common.ErrUnauthorized},
		{"sum mismatch", Call{Sender: tokenHash, Signer: "alice"}, "alice", 31, "a:10#b:20", common.ErrValidation},
		{"malformed", Call{Sender: tokenHash, Signer: "alice"}, "alice", 30, "a=10;b=20", common.ErrValidation},
		{"no token ledger", Call{Signer: "alice"}, "alice", 30, "a:10#b:20", common.ErrValidation},
		{"quota exceeded", Call{Sender: tokenHash, Signer: "alice"}, "alice", 3, "a:1#b:1#c:1", common.ErrQuotaExceeded},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.s.OnTokenReceived(context.Background(), tc.call, tc.sender, uint256.NewInt(tc.amount), tc.msg)
			require.ErrorIs(t, err, tc.err)
		})
	}

	e.s.Wait()
	e.requireQuota(t, "alice", 2)
	require.Empty(t, e.tokens.list())
	require.Empty(t, e.events.Logs())
}
