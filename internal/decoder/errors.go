// internal/decoder/errors.go
package decoder

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrorKind classifies decode failures. Permanent kinds feed the blacklist;
// the rest are treated as transient by the pipeline.
type ErrorKind int

const (
	KindInvalidLength ErrorKind = iota
	KindInvalidDiscriminator
	KindMissingAccount
	KindUnsupportedVariant
	KindInvalidValue
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidLength:
		return "invalid_length"
	case KindInvalidDiscriminator:
		return "invalid_discriminator"
	case KindMissingAccount:
		return "missing_account"
	case KindUnsupportedVariant:
		return "unsupported_variant"
	case KindInvalidValue:
		return "invalid_value"
	default:
		return "unknown"
	}
}

// DecodeError is the structured failure type returned by all decoders.
type DecodeError struct {
	Kind    ErrorKind
	Pool    solana.PublicKey
	Account solana.PublicKey // set for KindMissingAccount
	Msg     string
}

func (e *DecodeError) Error() string {
	if e.Kind == KindMissingAccount {
		return fmt.Sprintf("decode %s: %s: account %s", e.Pool, e.Kind, e.Account)
	}
	return fmt.Sprintf("decode %s: %s: %s", e.Pool, e.Kind, e.Msg)
}

// Permanent reports whether the failure is structural rather than transient.
// Structural failures make the pool a blacklist candidate after repeats.
func (e *DecodeError) Permanent() bool {
	switch e.Kind {
	case KindInvalidLength, KindInvalidDiscriminator, KindMissingAccount, KindUnsupportedVariant:
		return true
	default:
		return false
	}
}

func errInvalidLength(pool solana.PublicKey, got, want int) error {
	return &DecodeError{
		Kind: KindInvalidLength,
		Pool: pool,
		Msg:  fmt.Sprintf("data length %d, need at least %d", got, want),
	}
}

func errInvalidDiscriminator(pool solana.PublicKey) error {
	return &DecodeError{Kind: KindInvalidDiscriminator, Pool: pool, Msg: "discriminator mismatch"}
}

func errMissingAccount(pool, account solana.PublicKey) error {
	return &DecodeError{Kind: KindMissingAccount, Pool: pool, Account: account}
}

// IsPermanent reports whether err (or anything it wraps) is a structural
// decode failure.
func IsPermanent(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Permanent()
}

// MissingAccount extracts the missing dependency address from err, if any.
func MissingAccount(err error) (solana.PublicKey, bool) {
	var de *DecodeError
	if errors.As(err, &de) && de.Kind == KindMissingAccount {
		return de.Account, true
	}
	return solana.PublicKey{}, false
}
