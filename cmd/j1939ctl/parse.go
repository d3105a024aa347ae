package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// parsePGNs parses comma separated list of decimal or 0x prefixed hex PGNs.
func parsePGNs(raw []string) ([]uint32, error) {
	result := make([]uint32, 0, len(raw))
	for _, r := range raw {
		for _, s := range strings.Split(r, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			v, err := strconv.ParseUint(s, 0, 18)
			if err != nil {
				return nil, fmt.Errorf("invalid PGN %q: %w", s, err)
			}
			result = append(result, uint32(v))
		}
	}
	return result, nil
}

// parseHexData parses payload given as hex string. Spaces, colons and commas between bytes are ignored.
func parseHexData(raw string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", ",", "", "0x", "").Replace(raw)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
