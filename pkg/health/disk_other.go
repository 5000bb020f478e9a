//go:build !unix

package health

import (
	"context"
	"time"
)

// DiskCheck is not implemented on this platform and reports unknown.
type DiskCheck struct {
	Path         string
	MinFreeBytes uint64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	return CheckResult{
		Status:    StatusUnknown,
		Message:   "disk check not supported on this platform",
		Timestamp: time.Now(),
	}
}
