package circulation

import (
	"sort"
	"sync"

	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// AdapterConstructor builds a vendor adapter for one collection, loading
// the adapter's settings from the collection's integration configuration.
// Construction failures are reported as *ConfigurationError.
type AdapterConstructor func(st store.Store, collection *models.Collection) (VendorAdapter, error)

var (
	registryMu sync.RWMutex
	protocols  = make(map[string]AdapterConstructor)
)

// RegisterProtocol makes a vendor protocol available to engines. Vendor
// packages call this from init; registering the same protocol twice
// replaces the earlier constructor.
func RegisterProtocol(protocol string, constructor AdapterConstructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	protocols[protocol] = constructor
}

// constructorFor returns the registered constructor for a protocol, or nil.
func constructorFor(protocol string) AdapterConstructor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return protocols[protocol]
}

// RegisteredProtocols returns the names of all registered protocols,
// sorted, for ops surfaces.
func RegisteredProtocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
