package market

import (
	"fmt"
	"strings"
)

// ParseSymbolPair splits a pair like "BTC-USDT" into its base and quote
// symbols, upper-cased.
func ParseSymbolPair(pair string) (base, quote string, err error) {
	parts := strings.Split(strings.TrimSpace(pair), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol pair %q, expected BASE-QUOTE", pair)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
