package models

// -----------------------------------------------------------------------------
// Asset Metrics
// -----------------------------------------------------------------------------

// Metric field names, used as keys in MAssetMetrics.Changes and as CSV columns.
const (
	MetricHolders         = "holders"
	MetricCirculation     = "circulation"
	MetricHolderInfluence = "holder_influence"
	MetricTraderInfluence = "trader_influence"
	MetricPurity          = "purity"
)

// MAssetMetrics is one asset as observed on a single refresh cycle.
// Numeric fields are pointers: a nil field means the sub-call that produces it
// failed or returned an unexpected shape, and the value is simply unknown.
type MAssetMetrics struct {
	Symbol                   string   `json:"symbol"`
	Code                     string   `json:"code,omitempty"`
	Name                     string   `json:"name,omitempty"`
	FullName                 string   `json:"full_name,omitempty"`
	Holders                  *float64 `json:"holders"`
	Circulation              *float64 `json:"circulation"`
	CirculationChangePercent *float64 `json:"circulation_change_percent"`
	HolderInfluence          *float64 `json:"holder_influence"`
	TraderInfluence          *float64 `json:"trader_influence"`
	Purity                   *float64 `json:"purity,omitempty"`

	// Changes is keyed by metric name. A nil record means no prior value (or a
	// zero prior value) existed for that metric on the previous cycle.
	Changes map[string]*MChangeRecord `json:"changes,omitempty"`

	// LastUpdate (unix seconds) is stamped only once a change computation has
	// happened for this asset, i.e. it survived at least two cycles.
	LastUpdate int64 `json:"last_update,omitempty"`
}

// -----------------------------------------------------------------------------

// Metric returns the named numeric field, nil if unknown.
func (a *MAssetMetrics) Metric(name string) *float64 {
	switch name {
	case MetricHolders:
		return a.Holders
	case MetricCirculation:
		return a.Circulation
	case MetricHolderInfluence:
		return a.HolderInfluence
	case MetricTraderInfluence:
		return a.TraderInfluence
	case MetricPurity:
		return a.Purity
	default:
		return nil
	}
}

// MetricNames lists the diffable numeric metrics in column order.
func MetricNames() []string {
	return []string{
		MetricHolders,
		MetricCirculation,
		MetricHolderInfluence,
		MetricTraderInfluence,
		MetricPurity,
	}
}

// Clone returns a deep copy so snapshot consumers can never mutate store state.
func (a *MAssetMetrics) Clone() *MAssetMetrics {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Holders = cloneFloat(a.Holders)
	cp.Circulation = cloneFloat(a.Circulation)
	cp.CirculationChangePercent = cloneFloat(a.CirculationChangePercent)
	cp.HolderInfluence = cloneFloat(a.HolderInfluence)
	cp.TraderInfluence = cloneFloat(a.TraderInfluence)
	cp.Purity = cloneFloat(a.Purity)
	if a.Changes != nil {
		cp.Changes = make(map[string]*MChangeRecord, len(a.Changes))
		for k, v := range a.Changes {
			if v == nil {
				cp.Changes[k] = nil
				continue
			}
			rec := *v
			cp.Changes[k] = &rec
		}
	}
	return &cp
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

// -----------------------------------------------------------------------------
// Change Record
// -----------------------------------------------------------------------------

// MChangeRecord is the delta between two consecutive cycle values of a metric.
// Percent is pre-rounded to 2 decimals and carried as a string so it never
// drifts through serialization.
type MChangeRecord struct {
	Absolute float64 `json:"absolute"`
	Percent  string  `json:"percent"`
}

// -----------------------------------------------------------------------------
// Snapshot
// -----------------------------------------------------------------------------

// MSnapshot maps symbol -> metrics for one complete refresh cycle. Symbol keys
// are unique by construction; every entry was computed from the same cycle.
type MSnapshot map[string]*MAssetMetrics

// Clone deep-copies the snapshot.
func (s MSnapshot) Clone() MSnapshot {
	if s == nil {
		return nil
	}
	out := make(MSnapshot, len(s))
	for sym, m := range s {
		out[sym] = m.Clone()
	}
	return out
}
