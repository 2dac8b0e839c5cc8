package common

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// ScriptHash parses Neo account given either as an address or as a
// little-endian hex script hash with optional 0x prefix.
func ScriptHash(s string) (util.Uint160, error) {
	if h, err := address.StringToUint160(s); err == nil {
		return h, nil
	}

	h, err := util.Uint160DecodeStringLE(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return util.Uint160{}, fmt.Errorf("%w: invalid account %q", ErrValidation, s)
	}

	return h, nil
}
