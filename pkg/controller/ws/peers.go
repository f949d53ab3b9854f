package ws

import (
	"sort"
	"sync"
	"time"
)

// PeerSet tracks currently connected peers by remote address
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]time.Time
}

// NewPeerSet creates an empty PeerSet
func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]time.Time)}
}

// Add registers a peer and returns the new peer count
func (s *PeerSet) Add(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[addr] = time.Now()
	return len(s.peers)
}

// Remove forgets a peer and returns the new peer count
func (s *PeerSet) Remove(addr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
	return len(s.peers)
}

// Count returns the number of connected peers
func (s *PeerSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// List returns the connected peer addresses in sorted order
func (s *PeerSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addrs := make([]string, 0, len(s.peers))
	for addr := range s.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}
