package matchers

import (
	"context"
	"net/netip"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
)

// matchIPCIDR takes an address, which must be listed in the ipv4 or ipv6
// grain, or a network, which must contain one of them. Networks with host
// bits set are rejected.
func matchIPCIDR(ctx context.Context, c *plugin.Context, a plugin.Args) bool {
	tgt := a.String("tgt", "")
	logger := ctxlog.FromContext(ctx)

	if addr, err := netip.ParseAddr(tgt); err == nil {
		addr = addr.Unmap()
		for _, s := range grainAddrs(c, proto(addr)) {
			if s == addr.String() {
				return true
			}
		}
		return false
	}

	prefix, err := netip.ParsePrefix(tgt)
	if err != nil || prefix.Masked() != prefix {
		logger.Error("Invalid IP/CIDR target.", "target", tgt)
		return false
	}
	for _, s := range grainAddrs(c, proto(prefix.Addr())) {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func proto(addr netip.Addr) string {
	if addr.Is4() {
		return "ipv4"
	}
	return "ipv6"
}

func grainAddrs(c *plugin.Context, key string) []string {
	var out []string
	switch v := c.Grains[key].(type) {
	case []any:
		for _, item := range v {
			out = append(out, plugin.ToString(item))
		}
	case []string:
		out = v
	case string:
		out = []string{v}
	}
	return out
}
