package core

import "errors"

var (
	// ErrNoEligibleAccount: every account is disabled or at its daily cap.
	ErrNoEligibleAccount = errors.New("no_eligible_account")
	// ErrAccountNotFound: an unknown account id was referenced.
	ErrAccountNotFound = errors.New("account_not_found")
	// ErrProviderSend: the external send collaborator reported failure.
	// Never retried here; retry policy belongs to the caller.
	ErrProviderSend = errors.New("provider_send_failed")
	// ErrPersistence: the usage store is unreachable. Dispatch fails closed
	// rather than sending without being able to record usage.
	ErrPersistence = errors.New("usage_store_unavailable")
)
