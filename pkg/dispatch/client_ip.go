package dispatch

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxySet matches the addresses of trusted reverse proxies. Forwarding
// headers are only believed when the peer is a member.
type ProxySet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// NewProxySet parses IP and CIDR entries. Invalid entries are logged and
// skipped. It returns nil when no entry is usable.
func NewProxySet(entries []string, logger *slog.Logger) *ProxySet {
	set := &ProxySet{addrs: make(map[netip.Addr]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				if logger != nil {
					logger.Warn("invalid trusted proxy CIDR", "entry", entry, "error", err)
				}
				continue
			}
			set.prefixes = append(set.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			if logger != nil {
				logger.Warn("invalid trusted proxy IP", "entry", entry, "error", err)
			}
			continue
		}
		set.addrs[addr.Unmap()] = struct{}{}
	}
	if len(set.addrs) == 0 && len(set.prefixes) == 0 {
		return nil
	}
	return set
}

// Contains reports whether addr belongs to a trusted proxy.
func (s *ProxySet) Contains(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if _, ok := s.addrs[addr]; ok {
		return true
	}
	for _, prefix := range s.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP resolves the originating client address of r. Forwarded and
// X-Forwarded-For are walked right to left, skipping trusted hops.
func ClientIP(r *http.Request, trusted *ProxySet) string {
	peer := peerAddr(r.RemoteAddr)
	if !peer.IsValid() {
		return ""
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) == 0 {
		return peer.String()
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !trusted.Contains(hops[i]) {
			return hops[i].String()
		}
	}
	return hops[0].String()
}

func peerAddr(remote string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

// forwardedFor extracts the for= parameters of an RFC 7239 header.
func forwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, element := range strings.Split(header, ",") {
		for _, pair := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if addr, ok := hopAddr(value); ok {
				out = append(out, addr)
			}
		}
	}
	return out
}

func xForwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, part := range strings.Split(header, ",") {
		if addr, ok := hopAddr(part); ok {
			out = append(out, addr)
		}
	}
	return out
}

// hopAddr parses one forwarding hop: a bare address, host:port, a
// bracketed IPv6 literal or a quoted form of those. "unknown" and
// obfuscated identifiers yield false.
func hopAddr(value string) (netip.Addr, bool) {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" || strings.EqualFold(value, "unknown") {
		return netip.Addr{}, false
	}

	host := value
	switch {
	case strings.HasPrefix(host, "["):
		if end := strings.IndexByte(host, ']'); end != -1 {
			host = host[1:end]
		}
	case strings.Count(host, ":") == 1:
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
	}
	if zone := strings.IndexByte(host, '%'); zone != -1 {
		host = host[:zone]
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
