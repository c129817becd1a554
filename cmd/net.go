package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	ip := make(net.IP, len(baseAddress))
	copy(ip, baseAddress)
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > 4 {
		return net.IP{}, fmt.Errorf("too many octets in %q", partialAddr)
	}
	for i := 0; i < len(octets); i++ {
		var octet byte
		_, err := fmt.Sscanf(octets[i], "%d", &octet)
		if err != nil {
			return net.IP{}, err
		}
		ip[len(ip)-len(octets)+i] = octet
	}
	return ip, nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	ipaddr, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = addr + ":" + strconv.Itoa(defaultPort)
		ipaddr, port, err = net.SplitHostPort(addr)
		if err != nil {
			return "", "", err
		}
	}
	return ipaddr, port, nil
}

// parseAddresses builds the address book of a group from a comma separated
// list where the i-th entry is the address of rank i. An entry may omit the
// port, which defaults to defaultPort, and the leading octets of an IPv4
// address, which are taken from base.
func parseAddresses(list string, base net.IP, defaultPort int) (map[int]string, error) {
	addresses := make(map[int]string)
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("no addresses given")
	}
	for i, entry := range strings.Split(list, ",") {
		host, port, err := splitHostPort(strings.TrimSpace(entry), defaultPort)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", entry, err)
		}
		if net.ParseIP(host) == nil && isPartialIp(host) {
			if base.To4() == nil {
				return nil, fmt.Errorf("cannot complete %q without a local IPv4 address", entry)
			}
			ip, err := guessIpAddress(base.To4(), host)
			if err != nil {
				return nil, fmt.Errorf("could not guess address for %q: %w", entry, err)
			}
			host = ip.String()
		}
		addresses[i] = net.JoinHostPort(host, port)
	}
	return addresses, nil
}

func isPartialIp(host string) bool {
	if host == "" {
		return true
	}
	for _, r := range host {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
