package config

import (
	"fmt"
	"net"
	"strings"
)

func stringToIPNet(s string) (*net.IPNet, error) {
	ip := s
	if !strings.Contains(ip, "/") {
		ip += "/32"
	}
	_, ipnet, err := net.ParseCIDR(ip)
	if err != nil {
		return nil, fmt.Errorf("wrong network address %q: %w", s, err)
	}
	return ipnet, nil
}

func checkOverflow(m map[string]interface{}, ctx string) error {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return fmt.Errorf("unknown fields in %s: %s", ctx, strings.Join(keys, ", "))
}
