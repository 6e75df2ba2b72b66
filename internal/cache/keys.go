package cache

import "fmt"

func JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

// JobSnapshotKey holds the encoded terminal snapshot of a job.
func JobSnapshotKey(jobID string) string {
	return fmt.Sprintf("job:%s:snapshot", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
