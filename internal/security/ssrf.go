package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// privateIPRanges contains CIDR ranges for private/internal networks
var privateIPRanges = []string{
	"127.0.0.0/8",    // IPv4 loopback
	"10.0.0.0/8",     // RFC1918 private
	"172.16.0.0/12",  // RFC1918 private
	"192.168.0.0/16", // RFC1918 private
	"169.254.0.0/16", // Link-local
	"100.64.0.0/10",  // Carrier-grade NAT
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
	"0.0.0.0/8",      // "This" network
}

// blockedHostnames contains hostnames a module endpoint may never point at
var blockedHostnames = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
	"metadata.google.internal", // GCP metadata
	"kubernetes.default.svc",   // Kubernetes
	"kubernetes.default",       // Kubernetes
}

var parsedCIDRs []*net.IPNet

func init() {
	for _, cidr := range privateIPRanges {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			parsedCIDRs = append(parsedCIDRs, network)
		}
	}
}

// lookupIP is swapped in tests
var lookupIP = net.LookupIP

// IsPrivateIP checks if an IP address is in a private/internal range
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}

	for _, network := range parsedCIDRs {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsBlockedHostname checks a hostname and its parent domains against the blocklist
func IsBlockedHostname(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))

	for _, blocked := range blockedHostnames {
		if hostname == blocked || strings.HasSuffix(hostname, "."+blocked) {
			return true
		}
	}
	return false
}

// ValidateEndpointURL rejects module-declared provider URLs that would reach
// internal services: non-HTTP schemes, blocked hostnames, and hosts that are
// or resolve to private addresses.
func ValidateEndpointURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("only http and https schemes are allowed")
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return fmt.Errorf("URL must have a hostname")
	}

	if IsBlockedHostname(hostname) {
		return fmt.Errorf("access to internal hostname '%s' is not allowed", hostname)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if IsPrivateIP(ip) {
			return fmt.Errorf("access to private IP address '%s' is not allowed", hostname)
		}
		return nil
	}

	ips, err := lookupIP(hostname)
	if err != nil {
		// Unresolvable hosts fail at request time
		return nil
	}

	for _, resolvedIP := range ips {
		if IsPrivateIP(resolvedIP) {
			return fmt.Errorf("hostname '%s' resolves to private IP address '%s'", hostname, resolvedIP.String())
		}
	}

	return nil
}
