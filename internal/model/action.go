package model

// ActionKind names a side effect the executor knows how to apply.
type ActionKind string

const (
	ActionAddLabel           ActionKind = "add_label"
	ActionRemoveLabel        ActionKind = "remove_label"
	ActionArchive            ActionKind = "archive"
	ActionAnalyzeApplication ActionKind = "analyze_application"
	ActionPrint              ActionKind = "print"
)

// NeedsLabel reports whether actions of this kind carry a label name.
func (k ActionKind) NeedsLabel() bool {
	return k == ActionAddLabel || k == ActionRemoveLabel
}

// ActionSpec is an action proposed by a rule before it is bound to a message.
type ActionSpec struct {
	Kind      ActionKind
	LabelName string
	Reason    string
}

// Action is a planned side effect against a single message.
type Action struct {
	Kind      ActionKind `json:"kind"`
	MessageID string     `json:"message_id"`
	LabelName string     `json:"label_name,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
