package common

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Kinds of leg details attached to outgoing transfers.
const (
	NativeLegDetails   byte = 0x01
	TokenLegDetails    byte = 0x02
	RegisterLegDetails byte = 0x03
	RefundDetails      byte = 0x04
)

const detailsLen = 1 + 16 + 2

// MaxLegs is the maximum number of legs in a single batch. Leg index is
// encoded into transfer details as uint16.
const MaxLegs = math.MaxUint16 + 1

// CheckLegs ensures n legs fit into a single batch.
func CheckLegs(n int) error {
	if n > MaxLegs {
		return fmt.Errorf("%w: %d legs exceed the limit of %d", ErrValidation, n, MaxLegs)
	}
	return nil
}

// TransferDetails returns base58-encoded memo binding an outgoing transfer to
// the orchestration and leg it belongs to. Refunds use leg 0. Leg must be
// less than MaxLegs.
func TransferDetails(kind byte, id uuid.UUID, leg int) string {
	b := make([]byte, detailsLen)
	b[0] = kind
	copy(b[1:], id[:])
	binary.BigEndian.PutUint16(b[17:], uint16(leg))
	return base58.Encode(b)
}

// ParseTransferDetails decodes memo produced by TransferDetails.
func ParseTransferDetails(s string) (byte, uuid.UUID, int, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return 0, uuid.Nil, 0, fmt.Errorf("decode base58: %w", err)
	}
	if len(b) != detailsLen {
		return 0, uuid.Nil, 0, errors.New("invalid transfer details length")
	}

	var id uuid.UUID
	copy(id[:], b[1:17])

	return b[0], id, int(binary.BigEndian.Uint16(b[17:])), nil
}
