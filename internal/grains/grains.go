// Package grains collects the static facts a node reports about itself.
package grains

import (
	"context"
	"net"
	"os"
	"runtime"
	"sort"

	"github.com/vk/grainload/internal/ctxlog"
)

var kernelNames = map[string]string{
	"linux":   "Linux",
	"darwin":  "Darwin",
	"windows": "Windows",
	"freebsd": "FreeBSD",
	"openbsd": "OpenBSD",
	"netbsd":  "NetBSD",
}

var cpuArch = map[string]string{
	"amd64": "x86_64",
	"386":   "i686",
	"arm64": "aarch64",
}

// Core returns the core grains. Interface lookups that fail leave the
// address lists empty.
func Core(ctx context.Context) map[string]any {
	logger := ctxlog.FromContext(ctx)

	host, err := os.Hostname()
	if err != nil {
		logger.Warn("Failed to read hostname.", "error", err)
		host = "localhost"
	}

	kernel, ok := kernelNames[runtime.GOOS]
	if !ok {
		kernel = runtime.GOOS
	}
	arch, ok := cpuArch[runtime.GOARCH]
	if !ok {
		arch = runtime.GOARCH
	}

	ipv4, ipv6, err := addresses()
	if err != nil {
		logger.Warn("Failed to list interface addresses.", "error", err)
	}

	return map[string]any{
		"id":       host,
		"host":     host,
		"kernel":   kernel,
		"os":       kernel,
		"osarch":   runtime.GOARCH,
		"cpuarch":  arch,
		"num_cpus": runtime.NumCPU(),
		"ipv4":     ipv4,
		"ipv6":     ipv6,
		"path":     os.Getenv("PATH"),
		"pid":      os.Getpid(),
	}
}

func addresses() ([]any, []any, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return []any{}, []any{}, err
	}
	var v4, v6 []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip := ipnet.IP.To4(); ip != nil {
			v4 = append(v4, ip.String())
		} else {
			v6 = append(v6, ipnet.IP.String())
		}
	}
	return toAny(v4), toAny(v6), nil
}

func toAny(in []string) []any {
	sort.Strings(in)
	out := make([]any, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// Merge overlays configured grains on top of core ones. Configured values
// always win.
func Merge(core, configured map[string]any) map[string]any {
	out := make(map[string]any, len(core)+len(configured))
	for k, v := range core {
		out[k] = v
	}
	for k, v := range configured {
		out[k] = v
	}
	return out
}
