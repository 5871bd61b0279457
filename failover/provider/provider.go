package provider

// Provider identifies one of the two physical backends behind a router.
type Provider string

const (
	// Primary is the preferred provider, always attempted first when eligible.
	Primary Provider = "primary"
	// Secondary is the fallback provider.
	Secondary Provider = "secondary"
	// None indicates no provider (e.g. the active provider of a router whose
	// backends are all unconfigured or unavailable).
	None Provider = "none"
)

// String returns the provider name.
func (p Provider) String() string {
	return string(p)
}

// Status describes one provider inside a router snapshot.
type Status struct {
	Configured   bool   `json:"configured"`
	Available    bool   `json:"available"`
	FailureCount uint32 `json:"failureCount"`
}

// Snapshot is a point-in-time view of a router's providers and breakers.
type Snapshot struct {
	ActiveProvider Provider            `json:"activeProvider"`
	Providers      map[Provider]Status `json:"providers"`
}
