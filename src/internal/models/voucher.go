package models

import "time"

// VoucherInfo is the read-only view of a voucher returned by the ledger
// gateway. Expiry is converted from the gateway's unix-seconds field.
type VoucherInfo struct {
	AccessCode string
	QuotaMB    int64
	Expiry     time.Time
	HotspotID  string
	Valid      bool
}
