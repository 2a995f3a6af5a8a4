// Package discovery centralizes in-network service address conventions.
package discovery

import (
	"strconv"
	"strings"
)

// ServiceDevAPI is the reference REST backend identity.
const ServiceDevAPI = "devapi"

var httpPorts = map[string]int{
	ServiceDevAPI: 8090,
}

// DefaultHTTPAddr returns the canonical in-network HTTP address for a service.
func DefaultHTTPAddr(service string) string {
	port, ok := httpPorts[strings.TrimSpace(service)]
	if !ok || port <= 0 {
		return ""
	}
	return strings.TrimSpace(service) + ":" + strconv.Itoa(port)
}

// DefaultPort returns the canonical HTTP port for a service, or zero.
func DefaultPort(service string) int {
	return httpPorts[strings.TrimSpace(service)]
}

// OrDefaultHTTPBaseURL returns value when set, otherwise http://<service-host:port>.
func OrDefaultHTTPBaseURL(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	addr := DefaultHTTPAddr(service)
	if addr == "" {
		return ""
	}
	return "http://" + addr
}
