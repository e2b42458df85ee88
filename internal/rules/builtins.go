package rules

import (
	"regexp"
	"strings"

	"github.com/Martian-dev/inbox-triage/internal/model"
)

const (
	LabelSecurity     = "Security"
	LabelNewsletter   = "Newsletter"
	LabelApplications = "Applications"
)

// Job-application sub-reasons, each mapped to an Applications/<Child> label.
const (
	ReasonConfirmation = "confirmation"
	ReasonRejection    = "rejection"
	ReasonInterview    = "interview"
	ReasonUpdate       = "update"
)

// Builtins returns the security, job-application and newsletter rules.
func Builtins(opts Options) []Rule {
	return []Rule{
		SecurityAlertRule(),
		JobApplicationRule(),
		NewsletterRule(opts.ArchiveNewsletters),
	}
}

var (
	securitySenders = []string{"accounts.google.com", "no-reply@accounts.google.com"}
	securityTopics  = []string{"security", "sicherheits", "alert", "warn"}
)

// SecurityAlertRule flags provider account-security notifications.
func SecurityAlertRule() Rule {
	return Rule{
		Name:       "google_security_alert",
		Priority:   100,
		Category:   model.CategorySecurity,
		Confidence: 0.9,
		Match: func(msg model.Message) (bool, string) {
			if containsAny(msg.Sender, securitySenders...) && containsAny(msg.Subject, securityTopics...) {
				return true, "security-related sender and subject"
			}
			return false, ""
		},
		Actions: labelOnly(LabelSecurity),
	}
}

var (
	newsletterSenders  = []string{"newsletter", "noreply", "no-reply", "mailchimp"}
	newsletterSubjects = []string{"newsletter", "weekly", "digest"}
	unsubscribeRe      = regexp.MustCompile(`(?i)\b(unsubscribe|abbestellen|abmelden|désabonner|desabonner)\b`)
)

// NewsletterRule flags bulk mail. With archive set it also archives.
func NewsletterRule(archive bool) Rule {
	return Rule{
		Name:       "newsletter",
		Priority:   10,
		Category:   model.CategoryNewsletter,
		Confidence: 0.7,
		Match: func(msg model.Message) (bool, string) {
			switch {
			case containsAny(msg.Sender, newsletterSenders...):
				return true, "bulk-mail sender"
			case containsAny(msg.Subject, newsletterSubjects...):
				return true, "newsletter subject"
			case matches(unsubscribeRe, msg.Snippet):
				return true, "unsubscribe token in snippet"
			case hasHeader(msg, "List-Unsubscribe"):
				return true, "List-Unsubscribe header"
			}
			return false, ""
		},
		Actions: func(msg model.Message, reason string) []model.ActionSpec {
			specs := []model.ActionSpec{{Kind: model.ActionAddLabel, LabelName: LabelNewsletter, Reason: reason}}
			if archive {
				specs = append(specs, model.ActionSpec{Kind: model.ActionArchive, Reason: reason})
			}
			return specs
		},
	}
}

// FallbackRule matches everything and applies label, NoFit when empty.
func FallbackRule(label string) Rule {
	if label == "" {
		label = DefaultFallbackLabel
	}
	return Rule{
		Name:       "no_fit",
		Priority:   -1 << 31,
		Category:   model.CategoryNoFit,
		Confidence: 0.2,
		Match: func(model.Message) (bool, string) {
			return true, "no other rule matched"
		},
		Actions: labelOnly(label),
	}
}

func labelOnly(label string) func(model.Message, string) []model.ActionSpec {
	return func(_ model.Message, reason string) []model.ActionSpec {
		return []model.ActionSpec{{Kind: model.ActionAddLabel, LabelName: label, Reason: reason}}
	}
}

func hasHeader(msg model.Message, name string) bool {
	for k, v := range msg.Headers {
		if strings.EqualFold(k, name) && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}
