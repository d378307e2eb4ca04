package ingest

import (
	"FlowSentry/internal/config"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// OptionsFromConfig builds ingester options for the monitored host local.
func OptionsFromConfig(cfg *config.Config, local net.IP) Options {
	return Options{
		Local:        local,
		Filter:       cfg.Capture.Filter,
		ExcludePorts: ExcludedPorts(cfg),
		SynThreshold: cfg.Tracking.SynThreshold,
	}
}

// ExcludedPorts returns the ports of the engine's own traffic: the backing
// store, the NATS server used for probes and alerts, and configured extras.
func ExcludedPorts(cfg *config.Config) []uint16 {
	set := make(map[uint16]struct{})
	for _, p := range cfg.Capture.ExcludePorts {
		set[p] = struct{}{}
	}
	if p, ok := portOf(cfg.BackendAddr()); ok {
		set[p] = struct{}{}
	}
	if p, ok := portOf(cfg.Probe.NATSURL); ok {
		set[p] = struct{}{}
	}

	ports := make([]uint16, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// portOf extracts the port of "host:port" or "scheme://host:port".
func portOf(addr string) (uint16, bool) {
	if addr == "" {
		return 0, false
	}
	if strings.Contains(addr, "://") {
		u, err := url.Parse(addr)
		if err != nil {
			return 0, false
		}
		addr = u.Host
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, false
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(p), true
}
