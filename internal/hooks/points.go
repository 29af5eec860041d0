package hooks

// BeforeInitializeInput is seen before routing validates the title.
type BeforeInitializeInput struct {
	Title  string `json:"title"`
	Action string `json:"action"`
	User   string `json:"user,omitempty"`
}

// CanonicalRedirectInput is seen before canonical URL normalisation.
type CanonicalRedirectInput struct {
	Title      string `json:"title"`
	RequestURL string `json:"request_url"`
}

// MaybeRedirectInput is seen when a page may redirect elsewhere.
type MaybeRedirectInput struct {
	Title  string `json:"title"`
	Action string `json:"action"`
	// Target is the page's own redirect target, empty when it has none.
	Target string `json:"target,omitempty"`
}

// PerformActionInput is seen before an action handler runs.
type PerformActionInput struct {
	Title        string `json:"title"`
	RequestTitle string `json:"request_title"`
	Action       string `json:"action"`
	User         string `json:"user,omitempty"`
}

// UnknownActionInput is seen when no handler exists for the action.
type UnknownActionInput struct {
	Title  string `json:"title"`
	Action string `json:"action"`
}

// HTTPSRedirectInput is seen before a plain-HTTP request is upgraded.
type HTTPSRedirectInput struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Registry holds one chain per extension point.
type Registry struct {
	BeforeInitialize               *Chain[BeforeInitializeInput]
	TestCanonicalRedirect          *Chain[CanonicalRedirectInput]
	InitializeArticleMaybeRedirect *Chain[MaybeRedirectInput]
	MediaWikiPerformAction         *Chain[PerformActionInput]
	UnknownAction                  *Chain[UnknownActionInput]
	BeforeHTTPSRedirect            *Chain[HTTPSRedirectInput]
}

// NewRegistry returns a registry with empty chains.
func NewRegistry() *Registry {
	return &Registry{
		BeforeInitialize:               NewChain[BeforeInitializeInput](BeforeInitialize),
		TestCanonicalRedirect:          NewChain[CanonicalRedirectInput](TestCanonicalRedirect),
		InitializeArticleMaybeRedirect: NewChain[MaybeRedirectInput](InitializeArticleMaybeRedirect),
		MediaWikiPerformAction:         NewChain[PerformActionInput](MediaWikiPerformAction),
		UnknownAction:                  NewChain[UnknownActionInput](UnknownAction),
		BeforeHTTPSRedirect:            NewChain[HTTPSRedirectInput](BeforeHTTPSRedirect),
	}
}
