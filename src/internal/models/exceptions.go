package models

import "errors"

var (
	ErrDeviceBusy         = errors.New("device already has active session")
	ErrInvalidVoucher     = errors.New("no valid voucher found for this wallet")
	ErrVoucherExpired     = errors.New("voucher has expired")
	ErrAccessCodeMismatch = errors.New("access code mismatch with ledger voucher")
	ErrSessionNotFound    = errors.New("session not found")
	ErrMACMismatch        = errors.New("session MAC mismatch")
	ErrAlreadyActive      = errors.New("session already active")
	ErrSessionExpired     = errors.New("session expired")
	ErrStateConflict      = errors.New("session state conflict")
	ErrInvalidMAC         = errors.New("invalid MAC address")
)

var (
	ErrOracleUnreachable = errors.New("voucher ledger unreachable")
	ErrOracleMalformed   = errors.New("malformed voucher ledger response")
	ErrEnforcementFailed = errors.New("failed to configure network access")
)

var (
	ErrDatabaseQuery  = errors.New("database query error")
	ErrDatabaseInsert = errors.New("database insert error")
	ErrDatabaseUpdate = errors.New("database update error")
	ErrDatabaseDelete = errors.New("database delete error")
)

var (
	ErrRedisGet    = errors.New("redis get error")
	ErrRedisSet    = errors.New("redis set error")
	ErrRedisDelete = errors.New("redis delete error")
)

// IsClientError reports whether err is caused by the caller's input rather
// than a backend failure. Client errors never mutate state.
func IsClientError(err error) bool {
	for _, e := range []error{
		ErrDeviceBusy,
		ErrInvalidVoucher,
		ErrVoucherExpired,
		ErrAccessCodeMismatch,
		ErrSessionNotFound,
		ErrMACMismatch,
		ErrAlreadyActive,
		ErrSessionExpired,
		ErrStateConflict,
		ErrInvalidMAC,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
