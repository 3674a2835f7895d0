package fetch

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/agentsphere/toolgate/types"
)

// validateTarget parses and screens a URL before any network I/O.
// Only http and https are accepted, and every address the hostname
// resolves to must be publicly routable. Resolution failure blocks the
// fetch: an unresolvable host is indistinguishable from a rebinding
// attempt, so the guard fails closed.
func (f *Fetcher) validateTarget(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidInput, "invalid url %q", raw).WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.Errorf(types.ErrSSRFBlocked, "scheme %q not allowed", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return nil, types.Errorf(types.ErrInvalidInput, "url %q has no host", raw)
	}

	if f.config.AllowPrivate {
		return u, nil
	}

	var addrs []net.IP
	if ip := net.ParseIP(host); ip != nil {
		addrs = []net.IP{ip}
	} else {
		resolved, err := f.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, types.Errorf(types.ErrSSRFBlocked, "cannot resolve host %q", host).WithCause(err)
		}
		for _, a := range resolved {
			addrs = append(addrs, a.IP)
		}
	}
	if len(addrs) == 0 {
		return nil, types.Errorf(types.ErrSSRFBlocked, "host %q resolved to no addresses", host)
	}

	for _, ip := range addrs {
		if !isPublicIP(ip) {
			return nil, types.Errorf(types.ErrSSRFBlocked, "host %q resolves to non-public address %s", host, ip)
		}
	}
	return u, nil
}

// isPublicIP reports whether ip is routable on the public internet.
func isPublicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	return true
}
