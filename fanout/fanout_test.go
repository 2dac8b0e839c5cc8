package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const self = "service"

func newRegistry(t *testing.T, limit int) *Registry {
	return NewRegistry(Prm{Self: self, Limit: limit, Logger: zaptest.NewLogger(t)})
}

func legs(n int) []Leg {
	res := make([]Leg, n)
	for i := range res {
		res[i] = Leg{Recipient: string(rune('a' + i)), Amount: uint256.NewInt(uint64(i + 1))}
	}
	return res
}

func failedLegs(outcomes []Outcome) []int {
	var res []int
	for _, o := range outcomes {
		if o.Failed() {
			res = append(res, o.Leg)
		}
	}
	return res
}

func TestDispatch(t *testing.T) {
	r := newRegistry(t, 0)

	var calls atomic.Int32
	o, err := r.Register(Request{Kind: Native, Requester: "alice", Legs: legs(5)},
		func(_ context.Context, o *Orchestration, outcomes []Outcome) (any, error) {
			calls.Add(1)
			require.Equal(t, "alice", o.Request().Requester)
			return failedLegs(outcomes), nil
		})
	require.NoError(t, err)
	require.Equal(t, 1, r.Pending())

	r.Dispatch(context.Background(), o, func(_ context.Context, id uuid.UUID, i int, leg Leg) error {
		require.Equal(t, o.ID(), id)
		switch i {
		case 1:
			return errors.New("account is frozen")
		case 3:
			panic("unexpected")
		}
		return nil
	})

	res, err := o.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, res)
	require.EqualValues(t, 1, calls.Load())
	require.Zero(t, r.Pending())

	r.Wait()
}

func TestDispatchCanceledContext(t *testing.T) {
	r := newRegistry(t, 2)

	o, err := r.Register(Request{Kind: Token, Requester: "alice", Legs: legs(4)},
		func(_ context.Context, _ *Orchestration, outcomes []Outcome) (any, error) {
			return failedLegs(outcomes), nil
		})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var running, maxRunning atomic.Int32
	r.Dispatch(ctx, o, func(ctx context.Context, _ uuid.UUID, _ int, _ Leg) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return ctx.Err()
	})

	res, err := o.Wait(context.Background())
	require.NoError(t, err)
	require.Empty(t, res)
	require.LessOrEqual(t, maxRunning.Load(), int32(2))
}

func TestResolve(t *testing.T) {
	r := newRegistry(t, 0)

	var calls atomic.Int32
	o, err := r.Register(Request{Kind: Register, Requester: "alice", Legs: legs(2)},
		func(context.Context, *Orchestration, []Outcome) (any, error) {
			calls.Add(1)
			return "done", nil
		})
	require.NoError(t, err)

	all := []Outcome{{Leg: 1}, {Leg: 0, Err: errors.New("fail")}}

	t.Run("foreign caller", func(t *testing.T) {
		err := r.Resolve(context.Background(), "alice", o.ID(), all)
		require.ErrorIs(t, err, common.ErrUnauthorized)
		require.Equal(t, 1, r.Pending())
	})

	t.Run("incomplete outcomes", func(t *testing.T) {
		err := r.Resolve(context.Background(), self, o.ID(), all[:1])
		require.ErrorIs(t, err, common.ErrValidation)

		err = r.Resolve(context.Background(), self, o.ID(), []Outcome{{Leg: 0}, {Leg: 0}})
		require.ErrorIs(t, err, common.ErrValidation)

		err = r.Resolve(context.Background(), self, o.ID(), []Outcome{{Leg: 0}, {Leg: 2}})
		require.ErrorIs(t, err, common.ErrValidation)
		require.Equal(t, 1, r.Pending())
	})

	t.Run("unknown", func(t *testing.T) {
		err := r.Resolve(context.Background(), self, uuid.New(), all)
		require.ErrorIs(t, err, common.ErrUnknownOrchestration)
	})

	t.Run("exactly once", func(t *testing.T) {
		var (
			wg   sync.WaitGroup
			okN  atomic.Int32
			errN atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := r.Resolve(context.Background(), self, o.ID(), all)
				if err == nil {
					okN.Add(1)
					return
				}
				require.ErrorIs(t, err, common.ErrUnknownOrchestration)
				errN.Add(1)
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, okN.Load())
		require.EqualValues(t, 9, errN.Load())
		require.EqualValues(t, 1, calls.Load())

		res, err := o.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, "done", res)
	})
}

func TestContinuationError(t *testing.T) {
	r := newRegistry(t, 0)

	contErr := errors.New("refund failed")
	o, err := r.Register(Request{Kind: Native, Legs: legs(1)},
		func(context.Context, *Orchestration, []Outcome) (any, error) {
			return nil, contErr
		})
	require.NoError(t, err)

	require.ErrorIs(t, r.Resolve(context.Background(), self, o.ID(), []Outcome{{Leg: 0}}), contErr)

	_, err = o.Wait(context.Background())
	require.ErrorIs(t, err, contErr)
	require.Zero(t, r.Pending())
}

func TestWaitContext(t *testing.T) {
	r := newRegistry(t, 0)

	o, err := r.Register(Request{Kind: Native, Legs: legs(1)},
		func(context.Context, *Orchestration, []Outcome) (any, error) { return nil, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = o.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegisterEmpty(t *testing.T) {
	_, err := newRegistry(t, 0).Register(Request{Kind: Native}, nil)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestRegisterTooManyLegs(t *testing.T) {
	r := newRegistry(t, 0)

	big := make([]Leg, common.MaxLegs+1)
	for i := range big {
		big[i] = Leg{Recipient: "a", Amount: uint256.NewInt(1)}
	}

	_, err := r.Register(Request{Kind: Native, Legs: big}, nil)
	require.ErrorIs(t, err, common.ErrValidation)
	require.Zero(t, r.Pending())

	_, err = r.Register(Request{Kind: Native, Legs: big[:common.MaxLegs]}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, r.Pending())
}
