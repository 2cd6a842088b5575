package vault

import "errors"

var (
	// ErrNotSetUp means no password has been configured yet.
	ErrNotSetUp = errors.New("vault not set up")

	// ErrAlreadySetUp guards setup against overwriting an existing auth
	// record, which would strand all encrypted data.
	ErrAlreadySetUp = errors.New("vault already set up")

	// ErrInvalidPassword is returned by operations that require a
	// verified password.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrCorrupted means stored or imported data failed shape
	// validation after successful authentication.
	ErrCorrupted = errors.New("stored data is corrupted")

	// ErrWalletNotFound is returned for lookups by unknown wallet ID.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrSeedNotFound is returned when no seed record matches a
	// wallet ID hash.
	ErrSeedNotFound = errors.New("seed phrase not found")

	// ErrWalletExists rejects a second wallet at the same derivation
	// path under the same seed.
	ErrWalletExists = errors.New("wallet already exists at this path")

	// ErrCascadeRequired means deleting this wallet also deletes its
	// seed phrase and every wallet derived from it, and the caller did
	// not confirm that.
	ErrCascadeRequired = errors.New("deleting an identifying wallet requires cascade confirmation")

	// ErrInvalidWalletName rejects names outside the accepted length
	// and character set.
	ErrInvalidWalletName = errors.New("invalid wallet name")
)
