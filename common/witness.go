package common

import "fmt"

// CheckOwner returns ErrUnauthorized if caller is not the owner.
func CheckOwner(owner, caller string) error {
	if caller == "" || caller != owner {
		return fmt.Errorf("%w: only owner can perform this operation", ErrUnauthorized)
	}
	return nil
}

// CheckSelf returns ErrUnauthorized unless caller is the service itself.
// Continuations registered by the service are the only legitimate callers
// of reconciliation.
func CheckSelf(self, caller string) error {
	if self == "" || caller != self {
		return fmt.Errorf("%w: %q is not the service account", ErrUnauthorized, caller)
	}
	return nil
}

// CheckSigner returns ErrUnauthorized if the notifying signer differs from
// the declared sender.
func CheckSigner(signer, declared string) error {
	if signer != declared {
		return fmt.Errorf("%w: sender %q is not signer %q", ErrUnauthorized, declared, signer)
	}
	return nil
}
