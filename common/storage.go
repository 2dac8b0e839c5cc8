package common

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/core/storage"
	"github.com/nspcc-dev/neo-go/pkg/encoding/bigint"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
)

// Getter reads raw values by key. Missing keys are reported with
// storage.ErrKeyNotFound.
type Getter interface {
	Get(key []byte) ([]byte, error)
}

// Putter writes raw values by key.
type Putter interface {
	Put(key, value []byte)
}

// Store is a read-write key-value view. storage.MemCachedStore implements it.
type Store interface {
	Getter
	Putter
}

// Key builds storage key from the one-byte prefix and the following parts.
func Key(prefix byte, parts ...[]byte) []byte {
	n := 1
	for i := range parts {
		n += len(parts[i])
	}

	k := make([]byte, 1, n)
	k[0] = prefix
	for i := range parts {
		k = append(k, parts[i]...)
	}

	return k
}

// GetInt reads unsigned integer stored with PutInt. Missing key reads as 0.
func GetInt(st Getter, key []byte) (*uint256.Int, error) {
	data, err := st.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return new(uint256.Int), nil
		}
		return nil, fmt.Errorf("read storage item: %w", err)
	}

	return DecodeInt(data)
}

// DecodeInt decodes unsigned integer stored in the Neo VM integer encoding.
func DecodeInt(data []byte) (*uint256.Int, error) {
	bi := bigint.FromBytes(data)
	if bi.Sign() < 0 {
		return nil, fmt.Errorf("negative stored value %s", bi)
	}

	v, overflow := uint256.FromBig(bi)
	if overflow {
		return nil, fmt.Errorf("stored value %s overflows 256 bits", bi)
	}

	return v, nil
}

// PutInt stores unsigned integer in the Neo VM integer encoding.
func PutInt(st Putter, key []byte, v *uint256.Int) {
	st.Put(key, bigint.ToBytes(v.ToBig()))
}

// GetSerialized reads stack item stored with SetSerialized. It returns nil
// item and nil error if the key is missing.
func GetSerialized(st Getter, key []byte) (stackitem.Item, error) {
	data, err := st.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read storage item: %w", err)
	}

	item, err := stackitem.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize storage item: %w", err)
	}

	return item, nil
}

// SetSerialized serializes item and puts it into the store.
func SetSerialized(st Putter, key []byte, item stackitem.Item) error {
	data, err := stackitem.Serialize(item)
	if err != nil {
		return fmt.Errorf("serialize storage item: %w", err)
	}

	st.Put(key, data)

	return nil
}
