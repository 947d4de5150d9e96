package types

// ClientStatus is the subscription state of a client profile.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
)

// ClientProfile is a subscribing client's matching preferences. Profiles are
// owned by an external CRUD surface; the engine reads a snapshot at the start
// of each match cycle.
type ClientProfile struct {
	ID    int64        `json:"id"`
	Name  string       `json:"name"`
	Email string       `json:"email,omitempty"`

	// Structural preferences (equality filters).
	City              string   `json:"city,omitempty"`
	PermitType        string   `json:"permit_type,omitempty"`
	PermitClassMapped string   `json:"permit_class_mapped,omitempty"`
	WorkClasses       []string `json:"work_classes,omitempty"` // at-least-one-of

	// Semantic seed for ranking. Empty means infer from structural prefs.
	RAGQuery string `json:"rag_query,omitempty"`

	// Whole-word keyword preferences, OR semantics within each set.
	KeywordsInclude []string `json:"keywords_include,omitempty"`
	KeywordsExclude []string `json:"keywords_exclude,omitempty"`

	// Allocation preferences.
	SliderPercentage int          `json:"slider_percentage"` // 1..100, declared demand
	Priority         int          `json:"priority"`          // lower is stronger
	Status           ClientStatus `json:"status"`
}

// Active reports whether the client participates in match cycles.
func (c *ClientProfile) Active() bool { return c.Status == ClientActive }

// ClientFilter narrows ListClients.
type ClientFilter struct {
	Status ClientStatus // empty = all
	IDs    []int64      // empty = all
}
