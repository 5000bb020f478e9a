// Package severity provides the severity levels attached to triaged findings
// and the score-driven severity adjustment applied after fusion.
package severity

import "strings"

// Level represents a severity level for security findings.
type Level string

const (
	// Critical - Immediate action required. Actively exploited or trivially exploitable.
	Critical Level = "critical"

	// High - Serious vulnerability that should be addressed urgently.
	High Level = "high"

	// Medium - Moderate risk.
	Medium Level = "medium"

	// Low - Minor issue.
	Low Level = "low"

	// Info - Informational finding, no security impact.
	Info Level = "info"

	// Unknown - Severity could not be determined.
	Unknown Level = "unknown"
)

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric priority of the severity level.
// Higher numbers = higher priority.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// FromString normalizes scanner and LLM severity strings to a standard Level.
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT":
		return Critical
	case "HIGH", "ERROR", "SEVERE":
		return High
	case "MEDIUM", "MODERATE", "WARNING", "WARN", "MED":
		return Medium
	case "LOW":
		return Low
	case "INFO", "INFORMATIONAL", "NOTE", "NONE":
		return Info
	default:
		return Unknown
	}
}

// FromCVSS converts a CVSS score (0.0-10.0) to a severity level.
func FromCVSS(score float64) Level {
	switch {
	case score >= 9.0:
		return Critical
	case score >= 7.0:
		return High
	case score >= 4.0:
		return Medium
	case score > 0:
		return Low
	default:
		return Info
	}
}

// Adjust re-grades a reported severity using a fused triage score:
//
//	score < 0.3            -> info
//	score < 0.5            -> high/critical downgraded to medium
//	score > 0.8            -> medium upgraded to high
//	otherwise              -> unchanged
func Adjust(reported Level, score float64) Level {
	switch {
	case score < 0.3:
		return Info
	case score < 0.5:
		if reported.IsHigherThan(Medium) {
			return Medium
		}
		return reported
	case score > 0.8:
		if reported == Medium {
			return High
		}
		return reported
	default:
		return reported
	}
}

// CountBySeverity counts findings by severity level.
type CountBySeverity struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Unknown  int `json:"unknown"`
	Total    int `json:"total"`
}

// Increment increases the count for the given severity.
func (c *CountBySeverity) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	case Info:
		c.Info++
	default:
		c.Unknown++
	}
}
