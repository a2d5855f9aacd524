package iec104

import (
	"net"
	"sync"
)

/*
RedundancyGroup binds a set of allowed client IPs to a shared queue
pair, per spec.md §3's RedundancyGroup entity: connections from the
same group compete for the single active slot and inherit each other's
unconfirmed events on failover.

Grounded on original_source/lib60870-C's sCS104_RedundancyGroup
(name, list of allowed IPs, asduQueue/connectionAsduQueue pair),
with the C IP list replaced by a map keyed on the textual IP.
*/
type RedundancyGroup struct {
	Name string

	mu      sync.Mutex
	allowed map[string]struct{}

	lowQ *MessageQueue
	hiQ  *HighPrioQueue
}

func NewRedundancyGroup(name string) *RedundancyGroup {
	return &RedundancyGroup{
		Name:    name,
		allowed: make(map[string]struct{}),
	}
}

// AddAllowedClient registers ip (textual IPv4/IPv6 form). A group with
// no allowed clients is the catch-all, per spec.md §3.
func (g *RedundancyGroup) AddAllowedClient(ip string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if parsed := net.ParseIP(ip); parsed != nil {
		g.allowed[parsed.String()] = struct{}{}
	}
}

// isCatchAll reports whether this group accepts any client not claimed
// by another group.
func (g *RedundancyGroup) isCatchAll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.allowed) == 0
}

// matches reports whether ip is an explicitly allowed client of this
// group.
func (g *RedundancyGroup) matches(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}
	_, ok := g.allowed[ip]
	return ok
}

// initQueues allocates the group's queue pair from cfg; called once by
// the server when it starts (or when the group is added to a running
// server).
func (g *RedundancyGroup) initQueues(cfg *Config) {
	if g.lowQ == nil {
		g.lowQ = cfg.newLowQueue()
	}
	if g.hiQ == nil {
		g.hiQ = cfg.newHighQueue()
	}
}

// selectGroup picks the group for a peer IP: the first group listing it
// explicitly, else the first catch-all, else nil (connection refused).
func selectGroup(groups []*RedundancyGroup, ip string) *RedundancyGroup {
	for _, g := range groups {
		if g.matches(ip) {
			return g
		}
	}
	for _, g := range groups {
		if g.isCatchAll() {
			return g
		}
	}
	return nil
}
