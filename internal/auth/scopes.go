package auth

// Known OAuth scopes used by the reward ledger.
const (
	ScopeProgressRead = "progress:read"
	// ScopeProgressReadAny permits reading another user's progress, for
	// parent and educator dashboards.
	ScopeProgressReadAny = "progress:read:any"
	ScopeProgressWrite   = "progress:write"
	ScopeWalletSpend     = "wallet:spend"
)
