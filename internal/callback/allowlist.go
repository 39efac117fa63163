package callback

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"
)

// AllowList is a replaceable set of trusted prefixes. An empty list trusts
// every address.
type AllowList struct {
	mu       sync.RWMutex
	prefixes []netip.Prefix
}

// NewAllowList parses CIDRs or bare addresses.
func NewAllowList(entries []string) (*AllowList, error) {
	a := &AllowList{}
	if err := a.Replace(entries); err != nil {
		return nil, err
	}
	return a, nil
}

// Replace swaps the trusted set atomically. On error the old set is kept.
func (a *AllowList) Replace(entries []string) error {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		p, err := parseEntry(e)
		if err != nil {
			return err
		}
		prefixes = append(prefixes, p)
	}
	a.mu.Lock()
	a.prefixes = prefixes
	a.mu.Unlock()
	return nil
}

func parseEntry(e string) (netip.Prefix, error) {
	if strings.Contains(e, "/") {
		p, err := netip.ParsePrefix(e)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("parse trusted prefix %q: %w", e, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(e)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parse trusted address %q: %w", e, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (a *AllowList) Allowed(addr netip.Addr) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range a.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *AllowList) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.prefixes)
}

// RunRefresher replaces the list from fetch immediately and then every
// interval until ctx is done. Failed or empty fetches keep the current list.
func (a *AllowList) RunRefresher(ctx context.Context, interval time.Duration, fetch func(context.Context) ([]string, error)) {
	refresh := func() {
		entries, err := fetch(ctx)
		if err != nil {
			slog.Warn("refresh callback allow-list", "err", err)
			return
		}
		if len(entries) == 0 {
			return
		}
		if err := a.Replace(entries); err != nil {
			slog.Warn("refresh callback allow-list", "err", err)
			return
		}
		slog.Info("callback allow-list refreshed", "prefixes", len(entries))
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
