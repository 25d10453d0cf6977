package format

import "fmt"

// Size renders a byte count with a binary unit, e.g. "7.0 MiB".
func Size(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// Payload renders received data for the console. Non-printable bytes are
// escaped and anything beyond limit bytes is cut off.
func Payload(b []byte, limit int) string {
	if len(b) <= limit {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q... (%d bytes)", b[:limit], len(b))
}
