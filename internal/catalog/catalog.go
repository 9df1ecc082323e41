package catalog

import (
	"log"
	"sort"
	"strings"
)

// Device is one sellable handset from the storefront catalog.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Brand    string   `json:"brand"`
	Price    float64  `json:"price"`
	Features []string `json:"features"`
	Image    string   `json:"image"`
}

// Plan is one mobile tariff. Type is "prepaid" or "postpaid".
type Plan struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Data     string   `json:"data"`
	Type     string   `json:"type"`
	Features []string `json:"features"`
}

// Snapshot is the catalog as fetched once at startup. It is immutable for the
// lifetime of the process; all lookups read the same copy.
type Snapshot struct {
	devices []Device
	plans   []Plan

	deviceByID map[string]int
	planByID   map[string]int
}

// FromLists builds a snapshot from already-loaded collections.
func FromLists(devices []Device, plans []Plan) *Snapshot {
	s := &Snapshot{
		devices:    append([]Device(nil), devices...),
		plans:      append([]Plan(nil), plans...),
		deviceByID: make(map[string]int, len(devices)),
		planByID:   make(map[string]int, len(plans)),
	}
	for i, d := range s.devices {
		s.deviceByID[d.ID] = i
	}
	for i, p := range s.plans {
		s.planByID[p.ID] = i
	}
	return s
}

// Devices returns a copy of the device collection.
func (s *Snapshot) Devices() []Device { return append([]Device(nil), s.devices...) }

// Plans returns a copy of the plan collection.
func (s *Snapshot) Plans() []Plan { return append([]Plan(nil), s.plans...) }

// Empty reports whether either side of the catalog is missing.
func (s *Snapshot) Empty() bool { return len(s.devices) == 0 || len(s.plans) == 0 }

// ResolveDevice maps a loose reference to a catalog entry. Resolution order is
// strict: exact id, exact name (case-insensitive), then name containment.
func (s *Snapshot) ResolveDevice(ref string) (Device, bool) {
	if i, ok := s.deviceByID[ref]; ok {
		return s.devices[i], true
	}
	lower := strings.ToLower(strings.TrimSpace(ref))
	if lower == "" {
		return Device{}, false
	}
	for _, d := range s.devices {
		if strings.ToLower(d.Name) == lower {
			return d, true
		}
	}
	for _, d := range s.devices {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return d, true
		}
	}
	return Device{}, false
}

// ResolvePlan is ResolveDevice for plans.
func (s *Snapshot) ResolvePlan(ref string) (Plan, bool) {
	if i, ok := s.planByID[ref]; ok {
		return s.plans[i], true
	}
	lower := strings.ToLower(strings.TrimSpace(ref))
	if lower == "" {
		return Plan{}, false
	}
	for _, p := range s.plans {
		if strings.ToLower(p.Name) == lower {
			return p, true
		}
	}
	for _, p := range s.plans {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			return p, true
		}
	}
	return Plan{}, false
}

// ResolveDeviceOrFirst resolves ref, substituting the first catalog entry when
// resolution fails. The substitution is logged so mismatches stay visible.
func (s *Snapshot) ResolveDeviceOrFirst(ref string) (Device, bool) {
	if d, ok := s.ResolveDevice(ref); ok {
		return d, true
	}
	log.Printf("catalog: device ref %q did not resolve, substituting first entry", ref)
	return s.FirstDevice(), false
}

// ResolvePlanOrFirst is ResolveDeviceOrFirst for plans.
func (s *Snapshot) ResolvePlanOrFirst(ref string) (Plan, bool) {
	if p, ok := s.ResolvePlan(ref); ok {
		return p, true
	}
	log.Printf("catalog: plan ref %q did not resolve, substituting first entry", ref)
	return s.FirstPlan(), false
}

// FirstDevice returns the fallback device entry.
func (s *Snapshot) FirstDevice() Device {
	if len(s.devices) == 0 {
		return Device{}
	}
	return s.devices[0]
}

// FirstPlan returns the fallback plan entry.
func (s *Snapshot) FirstPlan() Plan {
	if len(s.plans) == 0 {
		return Plan{}
	}
	return s.plans[0]
}

// Brands returns the distinct device brands, lowercased, longest first so that
// multi-word brands match before their prefixes.
func (s *Snapshot) Brands() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range s.devices {
		b := strings.ToLower(strings.TrimSpace(d.Brand))
		if b == "" {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// DevicesByPriceDesc returns devices sorted by price, highest first. Ties keep
// catalog order.
func (s *Snapshot) DevicesByPriceDesc() []Device {
	out := s.Devices()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	return out
}

// PlansOfType returns plans whose type matches (case-insensitive), sorted by
// price ascending.
func (s *Snapshot) PlansOfType(planType string) []Plan {
	var out []Plan
	for _, p := range s.plans {
		if strings.EqualFold(p.Type, planType) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// CheapestPlan returns the lowest-priced plan in the catalog.
func (s *Snapshot) CheapestPlan() Plan {
	if len(s.plans) == 0 {
		return Plan{}
	}
	best := s.plans[0]
	for _, p := range s.plans[1:] {
		if p.Price < best.Price {
			best = p
		}
	}
	return best
}
