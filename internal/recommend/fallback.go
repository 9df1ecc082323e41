package recommend

import (
	"fmt"
	"strings"

	"github.com/chadiek/shop-voice/internal/catalog"
	"github.com/chadiek/shop-voice/internal/session"
)

// maxFallbackResults caps locally generated suggestions per turn.
const maxFallbackResults = 3

// featureKeywords maps spoken feature words to catalog feature substrings.
var featureKeywords = map[string][]string{
	"camera":  {"camera", "photo", "picture", "photography"},
	"battery": {"battery", "charging", "long-lasting"},
	"gaming":  {"gaming", "games", "performance"},
	"storage": {"storage", "space", "memory"},
	"5g":      {"5g", "fast internet", "network"},
}

// Fallback generates up to three device+plan bundles from the local catalog
// snapshot, used when the backend is unreachable. The query is matched
// against known brands first, then feature keywords; with no match at all the
// three highest-priced devices stand in. The result is never empty for a
// non-empty catalog, at the cost of relevance.
func Fallback(query string, snap *catalog.Snapshot) []session.Recommendation {
	if snap == nil || snap.Empty() {
		return nil
	}
	lower := strings.ToLower(query)

	devices := matchBrand(lower, snap)
	matchedBy := "brand"
	if len(devices) == 0 {
		devices = matchFeatures(lower, snap)
		matchedBy = "features"
	}
	if len(devices) == 0 {
		devices = snap.DevicesByPriceDesc()
		matchedBy = "popularity"
	}
	if len(devices) > maxFallbackResults {
		devices = devices[:maxFallbackResults]
	}

	recs := make([]session.Recommendation, 0, len(devices))
	for _, d := range devices {
		p := planForDevice(d, snap)
		recs = append(recs, session.Recommendation{
			DeviceID:  d.ID,
			PlanID:    p.ID,
			Rationale: rationale(d, p, matchedBy),
		})
	}
	return recs
}

func matchBrand(lowerQuery string, snap *catalog.Snapshot) []catalog.Device {
	var brand string
	for _, b := range snap.Brands() {
		if strings.Contains(lowerQuery, b) {
			brand = b
			break
		}
	}
	if brand == "" {
		return nil
	}
	var out []catalog.Device
	for _, d := range snap.Devices() {
		if strings.EqualFold(d.Brand, brand) {
			out = append(out, d)
		}
	}
	return out
}

func matchFeatures(lowerQuery string, snap *catalog.Snapshot) []catalog.Device {
	var wanted []string
	for feature, words := range featureKeywords {
		for _, w := range words {
			if strings.Contains(lowerQuery, w) {
				wanted = append(wanted, feature)
				break
			}
		}
	}
	if len(wanted) == 0 {
		return nil
	}
	var out []catalog.Device
	for _, d := range snap.Devices() {
		if deviceHasAnyFeature(d, wanted) {
			out = append(out, d)
		}
	}
	return out
}

func deviceHasAnyFeature(d catalog.Device, wanted []string) bool {
	for _, f := range d.Features {
		lf := strings.ToLower(f)
		for _, w := range wanted {
			if strings.Contains(lf, w) {
				return true
			}
		}
	}
	return false
}

// planForDevice applies the price-tier rule: premium devices pair with the
// highest postpaid tier, mid-range with the median postpaid tier, everything
// else with prepaid. Missing tiers degrade to the cheapest plan overall so
// the pairing is total for any catalog with at least one plan.
func planForDevice(d catalog.Device, snap *catalog.Snapshot) catalog.Plan {
	postpaid := snap.PlansOfType("postpaid")
	prepaid := snap.PlansOfType("prepaid")
	switch {
	case d.Price > 1000:
		if len(postpaid) > 0 {
			return postpaid[len(postpaid)-1]
		}
	case d.Price > 600:
		if len(postpaid) > 0 {
			return postpaid[(len(postpaid)-1)/2]
		}
	default:
		if len(prepaid) > 0 {
			return prepaid[0]
		}
	}
	return snap.CheapestPlan()
}

func rationale(d catalog.Device, p catalog.Plan, matchedBy string) string {
	switch matchedBy {
	case "brand":
		return fmt.Sprintf("%s matches the brand you asked for; %s fits its price range.", d.Name, p.Name)
	case "features":
		return fmt.Sprintf("%s covers the features you mentioned; %s fits its price range.", d.Name, p.Name)
	default:
		return fmt.Sprintf("%s is one of our most popular devices; %s fits its price range.", d.Name, p.Name)
	}
}
