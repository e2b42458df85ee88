package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const unknownCompany = "unknown-company"

// Source describes the message an interview record was extracted from.
type Source struct {
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	Timestamp  int64     `json:"timestamp_ms"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// InterviewRecord is the document written for each interview invitation.
type InterviewRecord struct {
	Fields
	Source Source `json:"source"`
}

// InterviewStore writes interview records as JSON files in Dir.
type InterviewStore struct {
	Dir string
}

// NewInterviewStore returns a store rooted at dir.
func NewInterviewStore(dir string) *InterviewStore {
	return &InterviewStore{Dir: dir}
}

var nonStem = regexp.MustCompile(`[^a-z0-9]+`)

// CompanyStem turns a company name into a file-name-safe stem.
func CompanyStem(company string) string {
	stem := strings.Trim(nonStem.ReplaceAllString(strings.ToLower(company), "-"), "-")
	if len(stem) > 64 {
		stem = strings.TrimRight(stem[:64], "-")
	}
	if stem == "" {
		return unknownCompany
	}
	return stem
}

// Save writes rec to <Dir>/<company-stem>.json. A file for the same stem
// from a different message gets the message id appended instead of being
// overwritten. It returns the path written.
func (s *InterviewStore) Save(rec InterviewRecord) (string, error) {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	stem := CompanyStem(rec.CompanyName())
	path := filepath.Join(s.Dir, stem+".json")
	if owner, err := recordOwner(path); err == nil && owner != rec.Source.MessageID {
		path = filepath.Join(s.Dir, stem+"-"+CompanyStem(rec.Source.MessageID)+".json")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode interview record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write interview record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename interview record: %w", err)
	}
	return path, nil
}

// Load reads a record back from path.
func (s *InterviewStore) Load(path string) (InterviewRecord, error) {
	var rec InterviewRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode interview record %s: %w", path, err)
	}
	return rec, nil
}

func recordOwner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var rec InterviewRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable files are treated as foreign and never overwritten.
		return "", nil
	}
	return rec.Source.MessageID, nil
}
