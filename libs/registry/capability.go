package registry

import "strings"

// capabilityIndex is an inverted index from capability label to the set of
// provider ids declaring it. Lookups also consult the hierarchical root of
// the requested capability (the prefix up to the first dot), so a provider
// declaring "weather" serves "weather.current".
type capabilityIndex struct {
	byCapability map[string]map[string]bool
}

func newCapabilityIndex() *capabilityIndex {
	return &capabilityIndex{
		byCapability: make(map[string]map[string]bool),
	}
}

func (ci *capabilityIndex) add(providerID string, capabilities []string) {
	for _, cap := range capabilities {
		set, ok := ci.byCapability[cap]
		if !ok {
			set = make(map[string]bool)
			ci.byCapability[cap] = set
		}
		set[providerID] = true
	}
}

func (ci *capabilityIndex) remove(providerID string, capabilities []string) {
	for _, cap := range capabilities {
		if set, ok := ci.byCapability[cap]; ok {
			delete(set, providerID)
			if len(set) == 0 {
				delete(ci.byCapability, cap)
			}
		}
	}
}

// find returns the union of providers declaring cap exactly and providers
// declaring its hierarchical root.
func (ci *capabilityIndex) find(cap string) map[string]bool {
	out := make(map[string]bool)
	for id := range ci.byCapability[cap] {
		out[id] = true
	}
	if root := capabilityRoot(cap); root != cap {
		for id := range ci.byCapability[root] {
			out[id] = true
		}
	}
	return out
}

// capabilityRoot returns the prefix of cap up to the first dot.
func capabilityRoot(cap string) string {
	if i := strings.IndexByte(cap, '.'); i >= 0 {
		return cap[:i]
	}
	return cap
}

// Covers reports whether a declared capability set serves the requested
// capability, exactly or hierarchically.
func Covers(capabilities []string, requested string) bool {
	root := capabilityRoot(requested)
	for _, cap := range capabilities {
		if cap == requested || cap == root {
			return true
		}
	}
	return false
}
