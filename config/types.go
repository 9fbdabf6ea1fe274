package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ByteSize is a size specified in the config with a unit suffix, e.g. "16MB".
type ByteSize float64

const (
	_           = iota
	KB ByteSize = 1 << (10 * iota)
	MB
	GB
	TB
)

var (
	bytesPattern   = regexp.MustCompile(`(?i)^(-?\d+(?:\.\d+)?)([KMGT]B?|B)$`)
	errInvalidSize = errors.New("wrong size format: must be a positive integer with a unit of measurement like M, MB, G, GB, T or TB")
)

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (ds *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parts := bytesPattern.FindStringSubmatch(strings.TrimSpace(s))
	if len(parts) < 3 {
		return errInvalidSize
	}

	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || value <= 0 {
		return errInvalidSize
	}

	unit := strings.ToUpper(parts[2])
	switch unit[:1] {
	case "T":
		*ds = ByteSize(value) * TB
	case "G":
		*ds = ByteSize(value) * GB
	case "M":
		*ds = ByteSize(value) * MB
	case "K":
		*ds = ByteSize(value) * KB
	default:
		*ds = ByteSize(value)
	}

	return nil
}

// Duration wraps time.Duration with YAML string parsing, e.g. "10s".
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Networks is a list of IPNet entities, reused for the listener-level
// allowed-networks filter (distinct from the per-token ACL, which uses
// aclmath for the spec's byte-wise CIDR algorithm).
type Networks []*net.IPNet

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (n *Networks) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s []string
	if err := unmarshal(&s); err != nil {
		return err
	}
	networks := make(Networks, len(s))
	for i, v := range s {
		ipnet, err := stringToIPNet(v)
		if err != nil {
			return err
		}
		networks[i] = ipnet
	}
	*n = networks
	return nil
}

// Contains checks whether addr (host:port or bare host) falls within n.
// An empty Networks allows everything, matching the teacher's convention.
func (n Networks) Contains(addr string) bool {
	if len(n) == 0 {
		return true
	}

	h := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		h = host
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}

	for _, ipnet := range n {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
