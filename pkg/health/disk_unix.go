//go:build unix

package health

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// DiskCheck reports free space under the directory holding the database and
// audit log. A full disk makes every decision fail to record.
type DiskCheck struct {
	Path         string
	MinFreeBytes uint64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{
		Timestamp: time.Now(),
		Metadata:  make(map[string]any),
	}

	path := c.Path
	if path == "" {
		path = "."
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("statfs %s: %v", path, err)
		return result
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) //nolint:gosec // Bsize is positive
	freeBytes := stat.Bavail * uint64(stat.Bsize)  //nolint:gosec // Bsize is positive

	result.Metadata["path"] = path
	result.Metadata["total_bytes"] = totalBytes
	result.Metadata["free_bytes"] = freeBytes

	if c.MinFreeBytes > 0 && freeBytes < c.MinFreeBytes {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("free space %d bytes is below threshold %d bytes", freeBytes, c.MinFreeBytes)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d MB free", freeBytes/1024/1024)
	return result
}
