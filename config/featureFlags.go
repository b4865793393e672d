package config

import (
	"os"
	"strconv"
	"strings"
)

// AutoSyncEnabled controls the background scheduler that periodically flushes
// queued device actions and kicks off business syncs.
//
// Set via env:
// - AUTO_SYNC=true
func AutoSyncEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("AUTO_SYNC")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SyncShopParallelism bounds how many shops of a business are synced
// concurrently. Defaults to 4.
//
// Set via env:
// - SYNC_SHOP_PARALLELISM=8
func SyncShopParallelism() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SYNC_SHOP_PARALLELISM")))
	if err != nil || n < 1 {
		return 4
	}
	return n
}

// SyncPageSize is how many changed entities one download page carries.
// Defaults to 100.
//
// Set via env:
// - SYNC_PAGE_SIZE=200
func SyncPageSize() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SYNC_PAGE_SIZE")))
	if err != nil || n < 1 {
		return 100
	}
	return n
}

// SyncRetryAttempts bounds how often a transient delivery failure is retried
// before the remainder of a queue flush is left for the next run. Defaults
// to 3.
//
// Set via env:
// - SYNC_RETRY_ATTEMPTS=5
func SyncRetryAttempts() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("SYNC_RETRY_ATTEMPTS")))
	if err != nil || n < 1 {
		return 3
	}
	return n
}

// MaxActiveSaleSessions is the ceiling of concurrently active sale sessions
// per cashier on one device. Defaults to 3.
//
// Set via env:
// - MAX_ACTIVE_SALE_SESSIONS=10
func MaxActiveSaleSessions() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MAX_ACTIVE_SALE_SESSIONS")))
	if err != nil || n < 1 {
		return 3
	}
	return n
}

// ReceiptPrintingEnabled gates receipt printing after a completed sale.
// Printing is best effort either way; the flag just skips the attempt.
//
// Set via env:
// - RECEIPT_PRINTING=true
func ReceiptPrintingEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECEIPT_PRINTING")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
