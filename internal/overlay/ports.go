package overlay

import (
	"crypto/rand"
	"math/big"
	"slices"
	"sync"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

const portKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generatePortKey returns a random capability token. It only needs to be
// unguessable by page scripts, not secret at rest.
func generatePortKey(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(portKeyAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("overlay: crypto/rand unavailable: " + err.Error())
		}
		buf[i] = portKeyAlphabet[idx.Int64()]
	}
	return string(buf)
}

// portRegistry holds the process-wide UI ports, their message connectors,
// superseded ports awaiting disconnect, and the per-tab port keys.
type portRegistry struct {
	mu         sync.Mutex
	slots      map[types.PortName]Port
	expired    []Port
	portKeys   map[int]string
	keyLength  int
	generateFn func(int) string
}

func newPortRegistry(keyLength int) *portRegistry {
	return &portRegistry{
		slots:      make(map[types.PortName]Port),
		portKeys:   make(map[int]string),
		keyLength:  keyLength,
		generateFn: generatePortKey,
	}
}

// register stores port in its slot. A UI port already holding the slot is
// moved to the expired list rather than disconnected.
func (r *portRegistry) register(port Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.slots[port.Name()]; ok && old != nil && old != port && !port.Name().IsConnector() {
		r.expired = append(r.expired, old)
	}
	r.slots[port.Name()] = port
}

func (r *portRegistry) get(name types.PortName) Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[name]
}

// isRegistered reports whether port currently holds its slot.
func (r *portRegistry) isRegistered(port Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[port.Name()] == port
}

func (r *portRegistry) isExpired(port Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.expired, port)
}

// removeExpired drops port from the expired list and reports whether it
// was there.
func (r *portRegistry) removeExpired(port Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.Index(r.expired, port)
	if idx < 0 {
		return false
	}
	r.expired = slices.Delete(r.expired, idx, idx+1)
	return true
}

// clear empties port's slot if it still holds it.
func (r *portRegistry) clear(port Port) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[port.Name()] != port {
		return false
	}
	delete(r.slots, port.Name())
	return true
}

// clearSlot empties a slot and returns the port it held.
func (r *portRegistry) clearSlot(name types.PortName) Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	port := r.slots[name]
	delete(r.slots, name)
	return port
}

// drainExpired empties the expired list and returns its ports.
func (r *portRegistry) drainExpired() []Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.expired
	r.expired = nil
	return out
}

func (r *portRegistry) expiredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expired)
}

// ensureKey returns the tab's port key, generating one if the tab has none.
// Both UI ports of a tab share the key.
func (r *portRegistry) ensureKey(tabID int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.portKeys[tabID]
	if !ok {
		key = r.generateFn(r.keyLength)
		r.portKeys[tabID] = key
	}
	return key
}

func (r *portRegistry) key(tabID int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.portKeys[tabID]
	return key, ok
}

func (r *portRegistry) removeKey(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.portKeys, tabID)
}

// connected lists the names of occupied slots.
func (r *portRegistry) connected() []types.PortName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]types.PortName, 0, len(r.slots))
	for name, p := range r.slots {
		if p != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
