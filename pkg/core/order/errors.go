package order

import "errors"

// Validation errors are caller mistakes: reported synchronously and,
// outside MatchBatch's per-pair isolation, abort the whole call with no
// state change.
var (
	// ErrSameOrder is returned when a match pairs an order with itself.
	ErrSameOrder = errors.New("same order on both sides")

	// ErrSideMismatch is returned when a match is not exactly one list
	// against one bid.
	ErrSideMismatch = errors.New("side mismatch")

	// ErrKindMismatch is returned when sale kinds disagree, or a list
	// order claims to be collection-wide.
	ErrKindMismatch = errors.New("sale kind mismatch")

	// ErrAssetMismatch is returned when the paired orders target
	// different collections or, for item-kind, different tokens.
	ErrAssetMismatch = errors.New("asset mismatch")

	// ErrUnsupportedAsset is returned for collections not registered
	// with the marketplace.
	ErrUnsupportedAsset = errors.New("unsupported asset collection")

	// ErrOrderClosed is returned when a referenced order is missing,
	// tombstoned, or already fully filled.
	ErrOrderClosed = errors.New("order closed")

	// ErrOrderExpired is returned when an order's expiry has passed.
	ErrOrderExpired = errors.New("order expired")

	// ErrSenderInvalid is returned when the caller is not the maker of
	// exactly one side of a match, or lacks operator rights.
	ErrSenderInvalid = errors.New("sender invalid")

	// ErrZeroSalt is returned for orders with a zero salt nonce.
	ErrZeroSalt = errors.New("zero salt")

	// ErrUnexpectedValue is returned when a seller accepting a bid
	// attaches native funds.
	ErrUnexpectedValue = errors.New("unexpected native value")

	// ErrValueTooLow is returned when a buyer's attached funds do not
	// cover the fill price.
	ErrValueTooLow = errors.New("attached value below fill price")

	// ErrPriceTooLow is returned when an ad hoc bid prices below the
	// listing.
	ErrPriceTooLow = errors.New("bid price below listing price")

	// ErrDuplicateOrder is returned when an open record already exists
	// for the fingerprint.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrOrderAlreadyFinalized is returned when a fingerprint resolves
	// to a tombstoned record; tombstones are permanent.
	ErrOrderAlreadyFinalized = errors.New("order already finalized")

	// ErrInvalidPrice is returned for non-positive unit prices.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidAmount is returned for non-positive committed amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Resource errors originate from the caller's supplied funds or assets
// being insufficient.
var (
	// ErrInsufficientFunds is returned when supplied native funds do not
	// match a batch's escrow requirement.
	ErrInsufficientFunds = errors.New("insufficient native funds")

	// ErrAssetTransferFailed is returned when the maker does not control
	// the asset units an order commits.
	ErrAssetTransferFailed = errors.New("asset transfer failed")
)

// Escrow-invariant violations indicate a bug in the core: a requested
// release exceeds the tracked balance. The vault panics with these
// wrapped, they are never returned to callers.
var (
	ErrInsufficientEscrow = errors.New("insufficient escrow")

	// ErrInsufficientFeeBalance is returned when a fee withdrawal
	// exceeds accrued protocol revenue.
	ErrInsufficientFeeBalance = errors.New("insufficient fee balance")
)
