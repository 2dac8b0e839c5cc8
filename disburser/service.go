package disburser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/disburser/common"
	"github.com/nspcc-dev/disburser/events"
	"github.com/nspcc-dev/disburser/fanout"
	"github.com/nspcc-dev/disburser/fee"
	"github.com/nspcc-dev/disburser/metrics"
	"github.com/nspcc-dev/disburser/quota"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"go.uber.org/zap"
)

const (
	ownerKey   = 'o'
	oracleKey  = 'c'
	versionKey = 'v'
	lastFeeKey = 'f'
)

// Call describes the caller of the operation.
type Call struct {
	// Sender is the immediate caller. For token notifications it is the token
	// ledger.
	Sender string
	// Signer is the account the request originates from. Quota is charged
	// and refunds are made to it.
	Signer string
	// Deposit is the native currency amount attached to the call.
	Deposit *uint256.Int
}

func (c Call) deposit() *uint256.Int {
	if c.Deposit == nil {
		return new(uint256.Int)
	}
	return c.Deposit
}

// OracleConfig identifies the price source.
type OracleConfig struct {
	ServiceID  string
	ProviderID string
}

// String returns 'service:provider' representation used in events.
func (c OracleConfig) String() string {
	return c.ServiceID + ":" + c.ProviderID
}

func (c OracleConfig) validate() error {
	if c.ServiceID == "" || c.ProviderID == "" {
		return fmt.Errorf("%w: empty oracle service or provider", common.ErrValidation)
	}
	return nil
}

func (c OracleConfig) toStackItem() stackitem.Item {
	return stackitem.NewStruct([]stackitem.Item{
		stackitem.NewByteArray([]byte(c.ServiceID)),
		stackitem.NewByteArray([]byte(c.ProviderID)),
	})
}

func (c *OracleConfig) fromStackItem(item stackitem.Item) error {
	arr, ok := item.Value().([]stackitem.Item)
	if !ok || len(arr) != 2 {
		return errors.New("invalid oracle config structure")
	}

	service, err := arr[0].TryBytes()
	if err != nil {
		return fmt.Errorf("oracle service: %w", err)
	}

	provider, err := arr[1].TryBytes()
	if err != nil {
		return fmt.Errorf("oracle provider: %w", err)
	}

	c.ServiceID, c.ProviderID = string(service), string(provider)

	return nil
}

// NativeLedger moves native currency from the service account.
type NativeLedger interface {
	Transfer(ctx context.Context, to string, amount *uint256.Int, memo string) error
}

// TokenLedger moves tokens held by the service account on the given token
// ledger.
type TokenLedger interface {
	Transfer(ctx context.Context, token, to string, amount *uint256.Int, memo string) error
}

// Registrar pays account registration fee on the given token ledger.
type Registrar interface {
	Register(ctx context.Context, token, account string, fee *uint256.Int) error
}

// Prm groups Service parameters.
type Prm struct {
	// Self is the service identity. Reconciliation is allowed only to it.
	Self string
	// Store keeps service state.
	Store storage.Store

	Oracle    fee.Oracle
	Native    NativeLedger
	Tokens    TokenLedger
	Registrar Registrar

	// Fee parameters, fee.DefaultParams if zero.
	Fee fee.Params
	// LegLimit bounds parallel legs of a single batch, unlimited if zero.
	LegLimit int

	Emitter events.Emitter
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Service is the disbursement service.
type Service struct {
	self      string
	store     storage.Store
	oracle    fee.Oracle
	native    NativeLedger
	tokens    TokenLedger
	registrar Registrar
	params    fee.Params
	emitter   events.Emitter
	log       *zap.Logger
	metrics   *metrics.Metrics

	registry *fanout.Registry

	mtx sync.Mutex
	// retryMtx serializes RetryRefunds so that a refund is not sent twice.
	retryMtx sync.Mutex
}

// New constructs Service. State written by an incompatible version is
// rejected.
func New(prm Prm) (*Service, error) {
	switch {
	case prm.Self == "":
		return nil, errors.New("missing service identity")
	case prm.Store == nil:
		return nil, errors.New("missing store")
	case prm.Oracle == nil:
		return nil, errors.New("missing price oracle")
	case prm.Native == nil:
		return nil, errors.New("missing native ledger")
	case prm.Tokens == nil:
		return nil, errors.New("missing token ledger")
	case prm.Registrar == nil:
		return nil, errors.New("missing registrar")
	}

	if prm.Fee.Pair == "" && prm.Fee.OneUnit == nil {
		prm.Fee = fee.DefaultParams()
	}
	if err := prm.Fee.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee parameters: %w", err)
	}

	if prm.Logger == nil {
		prm.Logger = zap.NewNop()
	}
	if prm.Emitter == nil {
		prm.Emitter = events.NewLogEmitter(prm.Logger)
	}

	_, err := prm.Store.Get([]byte{versionKey})
	if err == nil {
		v, err := common.GetInt(prm.Store, []byte{versionKey})
		if err != nil {
			return nil, fmt.Errorf("read stored version: %w", err)
		}
		if err := common.CheckVersion(int(v.Uint64())); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("read stored version: %w", err)
	}

	return &Service{
		self:      prm.Self,
		store:     prm.Store,
		oracle:    prm.Oracle,
		native:    prm.Native,
		tokens:    prm.Tokens,
		registrar: prm.Registrar,
		params:    prm.Fee,
		emitter:   prm.Emitter,
		log:       prm.Logger,
		metrics:   prm.Metrics,
		registry: fanout.NewRegistry(fanout.Prm{
			Self:   prm.Self,
			Limit:  prm.LegLimit,
			Logger: prm.Logger,
		}),
	}, nil
}

// txn is a state overlay of a single request.
type txn struct {
	st     *storage.MemCachedStore
	quota  *quota.Ledger
	events []events.Event
}

func (t *txn) emit(e events.Event) {
	t.events = append(t.events, e)
}

func (t *txn) owner() (string, error) {
	owner, err := t.st.Get([]byte{ownerKey})
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return "", common.ErrNotInitialized
		}
		return "", fmt.Errorf("read owner: %w", err)
	}
	return string(owner), nil
}

func (t *txn) oracleConfig() (OracleConfig, error) {
	var c OracleConfig

	item, err := common.GetSerialized(t.st, []byte{oracleKey})
	if err != nil {
		return c, fmt.Errorf("read oracle config: %w", err)
	}
	if item == nil {
		return c, common.ErrNotInitialized
	}

	if err := c.fromStackItem(item); err != nil {
		return c, fmt.Errorf("decode oracle config: %w", err)
	}

	return c, nil
}

// exec runs f on a fresh overlay under the service lock. Overlay is persisted
// and buffered events are emitted only if f succeeds.
func (s *Service) exec(f func(*txn) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := storage.NewMemCachedStore(s.store)
	tx := &txn{st: st, quota: quota.New(st)}

	if err := f(tx); err != nil {
		return err
	}

	if _, err := st.Persist(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}

	for _, e := range tx.events {
		s.emitter.Emit(events.New(e))
	}

	return nil
}

// Initialize sets the signer as the owner and configures the oracle. It can
// be done only once.
func (s *Service) Initialize(call Call, serviceID, providerID string) error {
	cfg := OracleConfig{ServiceID: serviceID, ProviderID: providerID}
	if err := cfg.validate(); err != nil {
		return err
	}
	if call.Signer == "" {
		return fmt.Errorf("%w: missing signer", common.ErrValidation)
	}

	return s.exec(func(tx *txn) error {
		_, err := tx.owner()
		if err == nil {
			return common.ErrAlreadyInitialized
		}
		if !errors.Is(err, common.ErrNotInitialized) {
			return err
		}

		tx.st.Put([]byte{ownerKey}, []byte(call.Signer))
		common.PutInt(tx.st, []byte{versionKey}, uint256.NewInt(common.Version))
		if err := common.SetSerialized(tx.st, []byte{oracleKey}, cfg.toStackItem()); err != nil {
			return err
		}

		s.log.Info("service initialized", zap.String("owner", call.Signer),
			zap.Stringer("oracle", cfg))

		return nil
	})
}

// SetOracleConfig replaces oracle configuration. Only the owner may call it.
func (s *Service) SetOracleConfig(call Call, serviceID, providerID string) (OracleConfig, error) {
	cfg := OracleConfig{ServiceID: serviceID, ProviderID: providerID}
	if err := cfg.validate(); err != nil {
		return OracleConfig{}, err
	}

	err := s.exec(func(tx *txn) error {
		owner, err := tx.owner()
		if err != nil {
			return err
		}
		if err := common.CheckOwner(owner, call.Sender); err != nil {
			return err
		}

		old, err := tx.oracleConfig()
		if err != nil {
			return err
		}

		if err := common.SetSerialized(tx.st, []byte{oracleKey}, cfg.toStackItem()); err != nil {
			return err
		}

		tx.emit(events.OracleConfigChanged{
			OldOracleID: old.String(),
			NewOracleID: cfg.String(),
			OwnerID:     owner,
		})

		return nil
	})
	if err != nil {
		return OracleConfig{}, err
	}

	return cfg, nil
}

// read runs f on a throwaway overlay under the service lock.
func (s *Service) read(f func(*txn) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	st := storage.NewMemCachedStore(s.store)
	return f(&txn{st: st, quota: quota.New(st)})
}

// OracleConfig returns current oracle configuration.
func (s *Service) OracleConfig() (OracleConfig, error) {
	var c OracleConfig
	err := s.read(func(tx *txn) (err error) {
		c, err = tx.oracleConfig()
		return
	})
	return c, err
}

// Owner returns the owner identity.
func (s *Service) Owner() (string, error) {
	var owner string
	err := s.read(func(tx *txn) (err error) {
		owner, err = tx.owner()
		return
	})
	return owner, err
}

// Quota returns the number of disbursement slots available to the account.
func (s *Service) Quota(account string) (*uint256.Int, error) {
	var v *uint256.Int
	err := s.read(func(tx *txn) (err error) {
		v, err = tx.quota.Get(account)
		return
	})
	return v, err
}

// Version returns the version of the service.
func (s *Service) Version() int {
	return common.Version
}

// Wait blocks until all dispatched batches and fee payments are settled.
func (s *Service) Wait() {
	s.registry.Wait()
}
