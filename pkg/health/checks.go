package health

import (
	"context"
	"time"
)

// StoreCheck pings the decision store.
type StoreCheck struct {
	PingFunc func(ctx context.Context) error
}

func (c *StoreCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Timestamp: time.Now()}

	if c.PingFunc == nil {
		result.Status = StatusUnknown
		result.Message = "no ping function configured"
		return result
	}

	if err := c.PingFunc(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		return result
	}
	result.Status = StatusHealthy
	result.Message = "connected"
	return result
}

var (
	_ Checker = (*StoreCheck)(nil)
	_ Checker = (*DiskCheck)(nil)
	_ Checker = CheckFunc(nil)
)
