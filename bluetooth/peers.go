package bluetooth

import "sort"

// DiscoveredPeer is one candidate link target seen during discovery.
type DiscoveredPeer struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	RSSI         int16    `json:"rssi"`
	ServiceUUIDs []string `json:"service_uuids,omitempty"`
}

// AdvertisesService reports whether the peer's advertised services
// include uuid.
func (p DiscoveredPeer) AdvertisesService(uuid string) bool {
	for _, u := range p.ServiceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// peerList tracks discovered peers. A repeat sighting refreshes the
// existing entry in place rather than creating a new one, and the list is
// re-sorted by signal strength descending after every update.
type peerList struct {
	byID  map[string]*DiscoveredPeer
	peers []*DiscoveredPeer
}

func newPeerList() *peerList {
	return &peerList{byID: make(map[string]*DiscoveredPeer)}
}

func (l *peerList) reset() {
	l.byID = make(map[string]*DiscoveredPeer)
	l.peers = l.peers[:0]
}

func (l *peerList) upsert(adv Advertisement) {
	p, ok := l.byID[adv.PeerID]
	if !ok {
		p = &DiscoveredPeer{ID: adv.PeerID}
		l.byID[adv.PeerID] = p
		l.peers = append(l.peers, p)
	}
	if adv.Name != "" {
		p.Name = adv.Name
	}
	p.RSSI = adv.RSSI
	if len(adv.ServiceUUIDs) > 0 {
		p.ServiceUUIDs = adv.ServiceUUIDs
	}
	sort.SliceStable(l.peers, func(i, j int) bool {
		return l.peers[i].RSSI > l.peers[j].RSSI
	})
}

// snapshot returns a copy of the list in strongest-signal-first order.
func (l *peerList) snapshot() []DiscoveredPeer {
	out := make([]DiscoveredPeer, 0, len(l.peers))
	for _, p := range l.peers {
		out = append(out, *p)
	}
	return out
}
