// Package pricefeed contains RPC wrappers for PriceFeed contract.
package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/unwrap"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

// Entry is a contract-specific pricefeed.Entry type used by its methods.
type Entry struct {
	Price      *big.Int
	Decimals   *big.Int
	LastUpdate *big.Int
}

// EntryUpdatedEvent represents "EntryUpdated" event emitted by the contract.
type EntryUpdatedEvent struct {
	Pair     string
	Provider util.Uint160
	Price    *big.Int
	Decimals *big.Int
}

// Invoker is used by ContractReader to call various safe methods.
type Invoker interface {
	Call(contract util.Uint160, operation string, params ...any) (*result.Invoke, error)
}

// Actor is used by Contract to call state-changing methods.
type Actor interface {
	Invoker

	MakeCall(contract util.Uint160, method string, params ...any) (*transaction.Transaction, error)
	MakeUnsignedCall(contract util.Uint160, method string, attrs []transaction.Attribute, params ...any) (*transaction.Transaction, error)
	SendCall(contract util.Uint160, method string, params ...any) (util.Uint256, uint32, error)
}

// ContractReader implements safe contract methods.
type ContractReader struct {
	invoker Invoker
	hash    util.Uint160
}

// Contract implements all contract methods.
type Contract struct {
	ContractReader
	actor Actor
	hash  util.Uint160
}

// NewReader creates an instance of ContractReader using provided contract hash and the given Invoker.
func NewReader(invoker Invoker, hash util.Uint160) *ContractReader {
	return &ContractReader{invoker, hash}
}

// New creates an instance of Contract using provided contract hash and the given Actor.
func New(actor Actor, hash util.Uint160) *Contract {
	return &Contract{ContractReader{actor, hash}, actor, hash}
}

// GetEntry invokes `getEntry` method of contract.
func (c *ContractReader) GetEntry(pair string, provider util.Uint160) (*Entry, error) {
	return itemToEntry(unwrap.Item(c.invoker.Call(c.hash, "getEntry", pair, provider)))
}

// Owner invokes `owner` method of contract.
func (c *ContractReader) Owner() (util.Uint160, error) {
	return unwrap.Uint160(c.invoker.Call(c.hash, "owner"))
}

// Version invokes `version` method of contract.
func (c *ContractReader) Version() (*big.Int, error) {
	return unwrap.BigInt(c.invoker.Call(c.hash, "version"))
}

// PutEntry creates a transaction invoking `putEntry` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) PutEntry(pair string, provider util.Uint160, price *big.Int, decimals *big.Int) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "putEntry", pair, provider, price, decimals)
}

// PutEntryTransaction creates a transaction invoking `putEntry` method of the contract.
// This transaction is signed, but not sent to the network, instead it's
// returned to the caller.
func (c *Contract) PutEntryTransaction(pair string, provider util.Uint160, price *big.Int, decimals *big.Int) (*transaction.Transaction, error) {
	return c.actor.MakeCall(c.hash, "putEntry", pair, provider, price, decimals)
}

// PutEntryUnsigned creates a transaction invoking `putEntry` method of the contract.
// This transaction is not signed, it's simply returned to the caller.
// Any fields of it that do not affect fees can be changed (ValidUntilBlock,
// Nonce), fee values (NetworkFee, SystemFee) can be increased as well.
func (c *Contract) PutEntryUnsigned(pair string, provider util.Uint160, price *big.Int, decimals *big.Int) (*transaction.Transaction, error) {
	return c.actor.MakeUnsignedCall(c.hash, "putEntry", nil, pair, provider, price, decimals)
}

// Update creates a transaction invoking `update` method of the contract.
// This transaction is signed and immediately sent to the network.
// The values returned are its hash, ValidUntilBlock value and error if any.
func (c *Contract) Update(script []byte, manifest []byte, data any) (util.Uint256, uint32, error) {
	return c.actor.SendCall(c.hash, "update", script, manifest, data)
}

// itemToEntry converts stack item into *Entry.
func itemToEntry(item stackitem.Item, err error) (*Entry, error) {
	if err != nil {
		return nil, err
	}
	var res = new(Entry)
	err = res.FromStackItem(item)
	return res, err
}

// FromStackItem retrieves fields of Entry from the given
// [stackitem.Item] or returns an error if it's not possible to do to so.
func (res *Entry) FromStackItem(item stackitem.Item) error {
	arr, ok := item.Value().([]stackitem.Item)
	if !ok {
		return errors.New("not an array")
	}
	if len(arr) != 3 {
		return errors.New("wrong number of structure elements")
	}

	var err error
	res.Price, err = arr[0].TryInteger()
	if err != nil {
		return fmt.Errorf("field Price: %w", err)
	}

	res.Decimals, err = arr[1].TryInteger()
	if err != nil {
		return fmt.Errorf("field Decimals: %w", err)
	}

	res.LastUpdate, err = arr[2].TryInteger()
	if err != nil {
		return fmt.Errorf("field LastUpdate: %w", err)
	}

	return nil
}

// EntryUpdatedEventsFromApplicationLog retrieves a set of all emitted events
// with "EntryUpdated" name from the provided [result.ApplicationLog].
func EntryUpdatedEventsFromApplicationLog(log *result.ApplicationLog) ([]*EntryUpdatedEvent, error) {
	if log == nil {
		return nil, errors.New("nil application log")
	}

	var res []*EntryUpdatedEvent
	for i, ex := range log.Executions {
		for j, e := range ex.Events {
			if e.Name != "EntryUpdated" {
				continue
			}
			event := new(EntryUpdatedEvent)
			err := event.FromStackItem(e.Item)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize EntryUpdatedEvent from stackitem (execution #%d, event #%d): %w", i, j, err)
			}
			res = append(res, event)
		}
	}

	return res, nil
}

// FromStackItem converts provided [stackitem.Array] to EntryUpdatedEvent or
// returns an error if it's not possible to do to so.
func (e *EntryUpdatedEvent) FromStackItem(item *stackitem.Array) error {
	if item == nil {
		return errors.New("nil item")
	}
	arr, ok := item.Value().([]stackitem.Item)
	if !ok {
		return errors.New("not an array")
	}
	if len(arr) != 4 {
		return errors.New("wrong number of structure elements")
	}

	b, err := arr[0].TryBytes()
	if err != nil {
		return fmt.Errorf("field Pair: %w", err)
	}
	if !utf8.Valid(b) {
		return errors.New("field Pair: not a UTF-8 string")
	}
	e.Pair = string(b)

	b, err = arr[1].TryBytes()
	if err != nil {
		return fmt.Errorf("field Provider: %w", err)
	}
	e.Provider, err = util.Uint160DecodeBytesBE(b)
	if err != nil {
		return fmt.Errorf("field Provider: %w", err)
	}

	e.Price, err = arr[2].TryInteger()
	if err != nil {
		return fmt.Errorf("field Price: %w", err)
	}

	e.Decimals, err = arr[3].TryInteger()
	if err != nil {
		return fmt.Errorf("field Decimals: %w", err)
	}

	return nil
}
