package stats

import "fmt"

// Reporting unit: 1 Mbps = 2^20 bits/s, the same unit the rate limit uses.
const bitsPerMegabit = 1024 * 1024

// Mbps converts bytes/s to Mbps.
func Mbps(bytesPerSec float64) float64 {
	return bytesPerSec * 8 / bitsPerMegabit
}

// MiB converts a byte count to MiB.
func MiB(b int64) float64 {
	return float64(b) / (1024 * 1024)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// FormatSpeed renders bytes/s as "12.34 Mbps".
func FormatSpeed(bytesPerSec float64) string {
	return fmt.Sprintf("%.2f Mbps", Mbps(bytesPerSec))
}
