// Package format renders addresses and sizes for log and console output.
package format

import (
	"fmt"
	"strings"
)

// Addr joins host and port, bracketing IPv6 literals.
func Addr(host string, port int) string {
	if strings.ContainsAny(host, ":") { // IPv6
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}
