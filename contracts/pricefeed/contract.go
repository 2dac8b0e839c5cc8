package pricefeed

import (
	"github.com/nspcc-dev/neo-go/pkg/interop"
	"github.com/nspcc-dev/neo-go/pkg/interop/contract"
	"github.com/nspcc-dev/neo-go/pkg/interop/native/management"
	"github.com/nspcc-dev/neo-go/pkg/interop/native/std"
	"github.com/nspcc-dev/neo-go/pkg/interop/runtime"
	"github.com/nspcc-dev/neo-go/pkg/interop/storage"
)

// Entry is a quote published by a provider.
type Entry struct {
	Price      int
	Decimals   int
	LastUpdate int
}

const (
	ownerKey    = "o"
	entryPrefix = 'e'

	// version is 0.1.0 encoded as major*1_000_000 + minor*1_000 + patch.
	version = 1_000

	maxDecimals = 32
)

// nolint:deadcode,unused
func _deploy(data any, isUpdate bool) {
	if isUpdate {
		return
	}

	args := data.([]any)
	owner := args[0].(interop.Hash160)
	if len(owner) != interop.Hash160Len {
		panic("invalid owner")
	}

	storage.Put(storage.GetContext(), ownerKey, owner)

	runtime.Log("price feed contract initialized")
}

// Update method updates contract source code and manifest. It can be invoked
// only by the contract owner.
func Update(script []byte, manifest []byte, data any) {
	if !runtime.CheckWitness(Owner()) {
		panic("only owner can update contract")
	}

	contract.Call(interop.Hash160(management.Hash), "update",
		contract.All, script, manifest, data)
	runtime.Log("price feed contract updated")
}

// Owner returns the account allowed to update the contract.
func Owner() interop.Hash160 {
	return storage.Get(storage.GetReadOnlyContext(), ownerKey).(interop.Hash160)
}

// PutEntry publishes a quote for the pair. Transaction must be witnessed by
// the provider. Price must be positive, decimals must not exceed 32.
//
// Produces EntryUpdated notification.
func PutEntry(pair string, provider interop.Hash160, price int, decimals int) {
	if len(pair) == 0 {
		panic("empty pair")
	}
	if len(provider) != interop.Hash160Len {
		panic("invalid provider")
	}
	if price <= 0 {
		panic("price must be positive")
	}
	if decimals < 0 || decimals > maxDecimals {
		panic("invalid decimals")
	}
	if !runtime.CheckWitness(provider) {
		panic("not witnessed by provider")
	}

	e := Entry{
		Price:      price,
		Decimals:   decimals,
		LastUpdate: runtime.GetTime(),
	}
	storage.Put(storage.GetContext(), entryKey(pair, provider), std.Serialize(e))

	runtime.Notify("EntryUpdated", pair, provider, price, decimals)
}

// GetEntry returns the latest quote of the pair published by the provider.
// It panics if there is none.
func GetEntry(pair string, provider interop.Hash160) Entry {
	data := storage.Get(storage.GetReadOnlyContext(), entryKey(pair, provider))
	if data == nil {
		panic("no entry")
	}

	return std.Deserialize(data.([]byte)).(Entry)
}

// Version returns the version of the contract.
func Version() int {
	return version
}

func entryKey(pair string, provider interop.Hash160) []byte {
	key := append([]byte{entryPrefix}, provider...)
	return append(key, []byte(pair)...)
}
