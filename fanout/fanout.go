/*
Package fanout runs batches of independent external operations (legs) and
reconciles their outcomes exactly once.

Each batch is an Orchestration keyed by a random UUID. Legs are started in
parallel, the barrier waits for every one of them and then the registry
resolves the orchestration with the collected outcomes. Resolution runs the
continuation supplied at registration and is allowed only to the registry
owner identity. Resolved orchestration is removed from the registry before
the continuation runs, so repeated resolution fails with
common.ErrUnknownOrchestration.
*/
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Kind is a type of the batch.
type Kind string

// Supported batch kinds.
const (
	Native   Kind = "native"
	Token    Kind = "token"
	Register Kind = "register"
	// Fee is a single oracle query of the service fee payment.
	Fee Kind = "fee"
)

// Leg is a single operation of the batch.
type Leg struct {
	Recipient string
	Amount    *uint256.Int
}

// Outcome is a settled leg. Nil Err means success.
type Outcome struct {
	Leg int
	Err error
}

// Failed checks whether the leg failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Request describes the batch.
type Request struct {
	Kind Kind
	// Requester is the identity compensation is made to.
	Requester string
	// Asset is the token ledger for Token and Register batches.
	Asset string
	Legs  []Leg
}

// Executor performs i-th leg of the orchestration.
type Executor func(ctx context.Context, id uuid.UUID, i int, leg Leg) error

// Continuation reconciles all outcomes of the orchestration. Outcomes are
// ordered by leg index. Returned value and error become the result of
// Orchestration.Wait.
type Continuation func(ctx context.Context, o *Orchestration, outcomes []Outcome) (any, error)

// Orchestration is a pending batch.
type Orchestration struct {
	id   uuid.UUID
	req  Request
	cont Continuation

	done chan struct{}
	res  any
	err  error
}

// ID returns unique orchestration identifier.
func (o *Orchestration) ID() uuid.UUID {
	return o.id
}

// Request returns the batch the orchestration was registered with.
func (o *Orchestration) Request() Request {
	return o.req
}

// Done returns channel closed after reconciliation.
func (o *Orchestration) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the orchestration is reconciled or ctx is done and
// returns the continuation result.
func (o *Orchestration) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		return o.res, o.err
	}
}

// Prm groups Registry parameters.
type Prm struct {
	// Self is the identity allowed to resolve orchestrations.
	Self string
	// Limit bounds the number of concurrently running legs of a single
	// orchestration. Zero means no limit.
	Limit int

	Logger *zap.Logger
}

// Registry keeps pending orchestrations.
type Registry struct {
	self  string
	limit int
	log   *zap.Logger

	mtx     sync.Mutex
	pending map[uuid.UUID]*Orchestration

	wg sync.WaitGroup
}

// NewRegistry constructs Registry.
func NewRegistry(prm Prm) *Registry {
	if prm.Logger == nil {
		prm.Logger = zap.NewNop()
	}

	return &Registry{
		self:    prm.Self,
		limit:   prm.Limit,
		log:     prm.Logger,
		pending: make(map[uuid.UUID]*Orchestration),
	}
}

// Register records pending orchestration for req. The batch must have at
// least one and at most common.MaxLegs legs.
func (r *Registry) Register(req Request, cont Continuation) (*Orchestration, error) {
	if len(req.Legs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", common.ErrValidation)
	}
	if err := common.CheckLegs(len(req.Legs)); err != nil {
		return nil, err
	}

	o := &Orchestration{
		id:   uuid.New(),
		req:  req,
		cont: cont,
		done: make(chan struct{}),
	}

	r.mtx.Lock()
	r.pending[o.id] = o
	r.mtx.Unlock()

	return o, nil
}

// Pending returns the number of unresolved orchestrations.
func (r *Registry) Pending() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.pending)
}

// Dispatch runs all legs of the registered orchestration in background and
// resolves it once every leg has settled. Legs and reconciliation are not
// interrupted by ctx cancellation.
func (r *Registry) Dispatch(ctx context.Context, o *Orchestration, exec Executor) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		outcomes := r.run(ctx, o, exec)
		if err := r.Resolve(ctx, r.self, o.id, outcomes); err != nil {
			r.log.Error("orchestration reconciliation failed",
				zap.Stringer("id", o.id), zap.String("kind", string(o.req.Kind)), zap.Error(err))
		}
	}()
}

// Wait blocks until all dispatched orchestrations are resolved.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) run(ctx context.Context, o *Orchestration, exec Executor) []Outcome {
	outcomes := make([]Outcome, len(o.req.Legs))

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}

	for i, leg := range o.req.Legs {
		g.Go(func() error {
			err := execLeg(ctx, exec, o.id, i, leg)
			if err != nil {
				r.log.Info("leg failed", zap.Stringer("id", o.id), zap.Int("leg", i),
					zap.String("recipient", leg.Recipient), zap.Error(err))
			}
			outcomes[i] = Outcome{Leg: i, Err: err}
			return nil
		})
	}

	_ = g.Wait() // legs never return errors to the group

	return outcomes
}

func execLeg(ctx context.Context, exec Executor, id uuid.UUID, i int, leg Leg) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("leg panicked: %v", rec)
		}
	}()
	return exec(ctx, id, i, leg)
}

// Resolve reconciles the orchestration with outcomes of all its legs. Only
// the registry owner may call it. Every leg must be reported exactly once.
// Orchestration is consumed even if the continuation fails.
func (r *Registry) Resolve(ctx context.Context, caller string, id uuid.UUID, outcomes []Outcome) error {
	if err := common.CheckSelf(r.self, caller); err != nil {
		return err
	}

	r.mtx.Lock()
	o, ok := r.pending[id]
	if !ok {
		r.mtx.Unlock()
		return fmt.Errorf("%w: %s", common.ErrUnknownOrchestration, id)
	}

	ordered, err := order(outcomes, len(o.req.Legs))
	if err != nil {
		r.mtx.Unlock()
		return err
	}

	delete(r.pending, id)
	r.mtx.Unlock()

	o.res, o.err = o.cont(ctx, o, ordered)
	close(o.done)

	return o.err
}

func order(outcomes []Outcome, n int) ([]Outcome, error) {
	if len(outcomes) != n {
		return nil, fmt.Errorf("%w: %d outcomes for %d legs", common.ErrValidation, len(outcomes), n)
	}

	res := make([]Outcome, n)
	seen := make([]bool, n)
	for _, out := range outcomes {
		if out.Leg < 0 || out.Leg >= n || seen[out.Leg] {
			return nil, fmt.Errorf("%w: unexpected outcome of leg #%d", common.ErrValidation, out.Leg)
		}
		seen[out.Leg] = true
		res[out.Leg] = out
	}

	return res, nil
}
