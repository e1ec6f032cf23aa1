package grid

import (
	"fmt"
	"sort"
	"sync"
)

// Registry of Manager instances keyed by grid name, so collaborators can
// resolve a named grid once at setup instead of threading it through.
var (
	mgrRegistry   = map[string]*Manager{}
	mgrRegistryMu = &sync.RWMutex{}
)

// RegisterManager registers mgr under its name, replacing any previous one.
func RegisterManager(mgr *Manager) {
	if mgr == nil || mgr.name == "" {
		return
	}
	mgrRegistryMu.Lock()
	defer mgrRegistryMu.Unlock()
	mgrRegistry[mgr.name] = mgr
}

// GetManager returns a registered manager or nil.
func GetManager(name string) *Manager {
	mgrRegistryMu.RLock()
	defer mgrRegistryMu.RUnlock()
	return mgrRegistry[name]
}

// LookupManager is GetManager with an error for unknown names.
func LookupManager(name string) (*Manager, error) {
	if mgr := GetManager(name); mgr != nil {
		return mgr, nil
	}
	return nil, fmt.Errorf("no grid registered under %q", name)
}

// UnregisterManager removes name from the registry.
func UnregisterManager(name string) {
	mgrRegistryMu.Lock()
	defer mgrRegistryMu.Unlock()
	delete(mgrRegistry, name)
}

// RegisteredManagers returns the registered names in sorted order.
func RegisteredManagers() []string {
	mgrRegistryMu.RLock()
	defer mgrRegistryMu.RUnlock()
	names := make([]string, 0, len(mgrRegistry))
	for name := range mgrRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
