package parse

import (
	"fmt"
	"regexp"
	"strings"
)

var macRe = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)

// NormalizeMAC canonicalizes a hardware address into the upper-case,
// colon-separated form used as the device key everywhere else
// ("AA:BB:CC:DD:EE:FF"). Accepted inputs are colon- or dash-separated
// pairs and bare 12-digit hex strings, in any case.
func NormalizeMAC(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", ":")

	// Bare hex form without separators.
	if !strings.Contains(s, ":") && len(s) == 12 {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(s[i : i+2])
		}
		s = b.String()
	}

	if !macRe.MatchString(s) {
		return "", fmt.Errorf("invalid mac address: %q", raw)
	}
	return s, nil
}
