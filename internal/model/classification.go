package model

// Category is the closed set of classification tags.
type Category string

const (
	CategorySecurity       Category = "security"
	CategoryNewsletter     Category = "newsletter"
	CategoryJobApplication Category = "job_application"
	CategoryNoFit          Category = "no_fit"
)

// Classification is the rule engine's verdict for one message.
type Classification struct {
	Category   Category `json:"category"`
	Labels     []string `json:"labels"`
	Reason     string   `json:"reason,omitempty"`
	Confidence float64  `json:"confidence"`
	Rule       string   `json:"rule"`

	// Summary, Todos and Notes are reading aids filled in after
	// classification; rules leave them empty.
	Summary []string `json:"summary,omitempty"`
	Todos   []string `json:"todos,omitempty"`
	Notes   []string `json:"notes,omitempty"`

	// FollowUps holds non-label action specs (archive, remove_label) the
	// matching rule asked for.
	FollowUps []ActionSpec `json:"-"`
}
