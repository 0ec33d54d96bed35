package config

import (
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"slices"
)

var namePattern = regexp.MustCompile("^[0-9a-z._-]+$")

// NameValidator enforces the node/area naming rule: lowercase alphanumeric
// plus `._-`, capped at 100 characters.
func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%q is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(%q) = %d > 100 is too long", s, len(s))
	}
	return nil
}

// AddressValidator checks that a peer address is a dialable host:port pair.
func AddressValidator(s string) error {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("%q is not a valid address: %w", s, err)
	}
	if host == "" || port == "" {
		return fmt.Errorf("%q is missing a host or port", s)
	}
	return nil
}

// PrefixValidator checks that s parses as a CIDR prefix.
func PrefixValidator(s string) error {
	_, err := netip.ParsePrefix(s)
	if err != nil {
		return fmt.Errorf("%q is not a valid prefix: %w", s, err)
	}
	return nil
}

// Validate checks a NodeConfig for internal consistency: valid names,
// dialable peer addresses, parseable prefixes, no duplicate area names, and
// every static prefix's area actually configured.
func Validate(cfg *NodeConfig) error {
	if err := NameValidator(cfg.Id); err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	if len(cfg.Areas) == 0 {
		return fmt.Errorf("node must configure at least one area")
	}

	seen := make([]string, 0, len(cfg.Areas))
	for _, area := range cfg.Areas {
		if err := NameValidator(area.Name); err != nil {
			return fmt.Errorf("area %q: %w", area.Name, err)
		}
		if slices.Contains(seen, area.Name) {
			return fmt.Errorf("duplicate area: %s", area.Name)
		}
		seen = append(seen, area.Name)

		if area.FloodRate < 0 {
			return fmt.Errorf("area %q: flood_rate must not be negative", area.Name)
		}
		if area.FloodBurst < 0 {
			return fmt.Errorf("area %q: flood_burst must not be negative", area.Name)
		}

		for _, peer := range area.Peers {
			if err := NameValidator(peer.NodeName); err != nil {
				return fmt.Errorf("area %q peer: %w", area.Name, err)
			}
			if err := AddressValidator(peer.Address); err != nil {
				return fmt.Errorf("area %q peer %q: %w", area.Name, peer.NodeName, err)
			}
		}
	}

	for _, p := range cfg.Prefixes {
		if !slices.Contains(seen, p.Area) {
			return fmt.Errorf("static prefix %q: area %q not configured", p.Prefix, p.Area)
		}
		if err := PrefixValidator(p.Prefix); err != nil {
			return fmt.Errorf("static prefix: %w", err)
		}
		if p.NextHop != "" {
			if _, err := netip.ParseAddr(p.NextHop); err != nil {
				return fmt.Errorf("static prefix %q: next hop %q is not a valid address: %w", p.Prefix, p.NextHop, err)
			}
		}
	}

	return nil
}
