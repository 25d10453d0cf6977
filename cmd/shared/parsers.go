package shared

import (
	"fmt"
	"regexp"
	"strconv"
)

var addressRe = regexp.MustCompile(`^(?:udp://)?(\[[^\]]*\]|[^:\[\]]*):(\d+)$`)

// ParseAddress parses an address in the format "[udp://]host:port". IPv6
// hosts go in brackets. The host can be empty or "*" to bind to all
// interfaces.
func ParseAddress(s string) (host string, port int, err error) {
	matches := addressRe.FindStringSubmatch(s)
	if len(matches) != 3 {
		err = parsingError(s)
		return
	}

	host = matches[1]
	if len(host) >= 2 && host[0] == '[' {
		host = host[1 : len(host)-1]
		if host == "" {
			err = parsingError(s)
			return
		}
	}
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, err = strconv.Atoi(matches[2])
	if err != nil || port < 1 || port > 65535 {
		err = parsingError(s)
		return
	}

	return
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be '[udp://]host:port'", s)
}
