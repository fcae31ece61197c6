package domain

// DecisionKind enumerates the route authorization outcomes.
type DecisionKind int

const (
	DecisionLoading DecisionKind = iota
	DecisionDenied
	DecisionAdminRequired
	DecisionAllowed
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionLoading:
		return "loading"
	case DecisionDenied:
		return "denied"
	case DecisionAdminRequired:
		return "admin_required"
	case DecisionAllowed:
		return "allowed"
	default:
		return "unknown"
	}
}

// Decision is the derived authorization decision for one route render.
// RedirectTo is only set for DecisionDenied.
type Decision struct {
	Kind       DecisionKind
	RedirectTo string
}
