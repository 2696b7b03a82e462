package service

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Canned date-range buckets accepted by listing and dashboard queries.
const (
	RangeToday   = "today"
	RangeWeek    = "week"
	RangeMonth   = "month"
	RangeQuarter = "quarter"
)

const defaultSLAHours = 72

// FormatSLA renders SLA hours the way they are stored as the estimated resolution time.
func FormatSLA(hours int) string {
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}

// ResolutionHours returns the elapsed hours between creation and resolution rounded to two decimals.
func ResolutionHours(createdAt, resolvedAt time.Time) float64 {
	hours := resolvedAt.Sub(createdAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return round2(hours)
}

// MergeTags unions next into current without duplicates. Empty tags are dropped.
func MergeTags(current, next []string) []string {
	seen := make(map[string]struct{}, len(current)+len(next))
	merged := make([]string, 0, len(current)+len(next))
	for _, list := range [][]string{current, next} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			merged = append(merged, tag)
		}
	}
	return merged
}

// normalizeTags de-duplicates a replacement tag set.
func normalizeTags(tags []string) []string {
	return MergeTags(nil, tags)
}

// RangeStart resolves a canned range to its lower bound. Unknown ranges report false.
func RangeStart(now time.Time, window string) (time.Time, bool) {
	switch strings.ToLower(strings.TrimSpace(window)) {
	case RangeToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case RangeWeek:
		return now.AddDate(0, 0, -7), true
	case RangeMonth:
		return now.AddDate(0, -1, 0), true
	case RangeQuarter:
		return now.AddDate(0, -3, 0), true
	}
	return time.Time{}, false
}

// dayKeys lists every calendar day from start to end inclusive as YYYY-MM-DD.
func dayKeys(start, end time.Time) []string {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	var keys []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		keys = append(keys, d.Format("2006-01-02"))
	}
	return keys
}

// workloadPercentile compares own against the mean of others. The result is own as a percentage of
// that mean; with no other assignees the caller is at 100.
func workloadPercentile(own int, others []int) (float64, float64) {
	if len(others) == 0 {
		return 0, 100
	}
	sum := 0
	for _, v := range others {
		sum += v
	}
	avg := float64(sum) / float64(len(others))
	if avg == 0 {
		return 0, 100
	}
	return round2(avg), round2(float64(own) / avg * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
