package shared

import (
	"fmt"
	"time"
)

// Advisory lock namespaces, used as the first key of pg_advisory_xact_lock(int, int).
const (
	LockNamespaceCustomerBlocks int32 = 1001
	LockNamespaceOrder          int32 = 1002
	LockNamespaceClosingDate    int32 = 1003
)

// ClosingDateLockKey folds a calendar day into the second advisory lock key.
func ClosingDateLockKey(date time.Time) int32 {
	y, m, d := date.Date()
	return int32(y*10000 + int(m)*100 + d)
}

// ClosingTaskID builds a deterministic asynq task id for a closing date.
func ClosingTaskID(operation string, date time.Time) string {
	return fmt.Sprintf("closing:%s:%s", operation, date.Format("2006-01-02"))
}
