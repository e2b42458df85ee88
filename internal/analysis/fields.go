// Package analysis extracts structured application fields from job mail.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrAnalysisFailed marks an empty or unparseable extractor response.
var ErrAnalysisFailed = errors.New("analysis: extraction failed")

// Status is the application stage reported by the extractor.
type Status string

const (
	StatusConfirmation Status = "confirmation"
	StatusInterview    Status = "interview"
	StatusRejection    Status = "rejection"
	StatusOffer        Status = "offer"
	StatusOther        Status = "other"
)

// Fields is the structured result of one extraction.
type Fields struct {
	Company        *string  `json:"company"`
	Role           *string  `json:"role"`
	Status         Status   `json:"status"`
	ActionRequired bool     `json:"action_required"`
	NextStep       *string  `json:"next_step"`
	Deadlines      []string `json:"deadlines"`
	ImportantLinks []string `json:"important_links"`
	Confidence     float64  `json:"confidence"`
}

// CompanyName returns the company, or "" when the extractor gave none.
func (f Fields) CompanyName() string {
	if f.Company == nil {
		return ""
	}
	return *f.Company
}

// Analyzer extracts Fields from a message.
type Analyzer interface {
	Analyze(ctx context.Context, subject, sender, body string) (Fields, error)
}

// ParseFields decodes the first JSON object in text, tolerating markdown
// code fences and surrounding prose.
func ParseFields(text string) (Fields, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fields{}, fmt.Errorf("%w: empty response", ErrAnalysisFailed)
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Fields{}, fmt.Errorf("%w: no JSON object in response", ErrAnalysisFailed)
	}

	var f Fields
	if err := json.Unmarshal([]byte(text[start:end+1]), &f); err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	if f.Company != nil {
		if c := strings.TrimSpace(*f.Company); c != "" {
			f.Company = &c
		} else {
			f.Company = nil
		}
	}
	switch s := Status(strings.ToLower(strings.TrimSpace(string(f.Status)))); s {
	case StatusConfirmation, StatusInterview, StatusRejection, StatusOffer:
		f.Status = s
	default:
		f.Status = StatusOther
	}
	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}
	if f.Deadlines == nil {
		f.Deadlines = []string{}
	}
	if f.ImportantLinks == nil {
		f.ImportantLinks = []string{}
	}
	return f, nil
}
