package live

import (
	"sort"
	"sync"
	"time"
)

// PeerInfo describes one connected viewer.
type PeerInfo struct {
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type peer struct {
	connectedAt time.Time
	outbound    chan<- []byte
}

// PeerMap tracks live connections by remote address. The lock covers only
// the map itself; sends happen after it is released.
type PeerMap struct {
	mu    sync.RWMutex
	peers map[string]peer
}

func NewPeerMap() *PeerMap {
	return &PeerMap{peers: make(map[string]peer)}
}

// Register adds addr, replacing any previous entry for the same address.
func (m *PeerMap) Register(addr string, outbound chan<- []byte) {
	p := peer{connectedAt: time.Now().UTC(), outbound: outbound}
	m.mu.Lock()
	m.peers[addr] = p
	m.mu.Unlock()
}

// Unregister removes addr. Unknown addresses are ignored.
func (m *PeerMap) Unregister(addr string) {
	m.mu.Lock()
	delete(m.peers, addr)
	m.mu.Unlock()
}

// Send queues msg for the peer at addr without blocking. It reports false when
// the peer is unknown or its queue is full.
func (m *PeerMap) Send(addr string, msg []byte) bool {
	m.mu.RLock()
	p, ok := m.peers[addr]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case p.outbound <- msg:
		return true
	default:
		return false
	}
}

func (m *PeerMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Snapshot lists connected peers sorted by address.
func (m *PeerMap) Snapshot() []PeerInfo {
	m.mu.RLock()
	out := make([]PeerInfo, 0, len(m.peers))
	for addr, p := range m.peers {
		out = append(out, PeerInfo{Addr: addr, ConnectedAt: p.connectedAt})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
