package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/inbox-triage/internal/model"
)

func msg(subject, from, snippet string) model.Message {
	return model.Message{ID: "m", Subject: subject, Sender: from, Snippet: snippet}
}

func TestSecurityBeatsNewsletter(t *testing.T) {
	e := NewDefaultEngine(Options{})
	// Matches both rules: security sender/subject and no-reply + unsubscribe.
	m := msg("Security alert for your account", "Google <no-reply@accounts.google.com>", "click to unsubscribe")

	c := e.Classify(m)
	assert.Equal(t, model.CategorySecurity, c.Category)
	assert.Equal(t, []string{LabelSecurity}, c.Labels)
	assert.Equal(t, "google_security_alert", c.Rule)
	assert.Equal(t, 0.9, c.Confidence)
}

func TestFallbackWhenNothingMatches(t *testing.T) {
	c := NewDefaultEngine(Options{}).Classify(msg("Lunch?", "Bob <bob@example.com>", "are you free"))
	assert.Equal(t, model.CategoryNoFit, c.Category)
	assert.Equal(t, []string{DefaultFallbackLabel}, c.Labels)

	c = NewDefaultEngine(Options{FallbackLabel: "Other"}).Classify(msg("Lunch?", "bob@example.com", ""))
	assert.Equal(t, []string{"Other"}, c.Labels)
}

func TestNewsletterSignals(t *testing.T) {
	e := NewDefaultEngine(Options{})
	cases := []model.Message{
		msg("Hello", "news <newsletter@shop.example>", ""),
		msg("Your Weekly roundup", "a@b.example", ""),
		msg("Hi", "a@b.example", "Zum Abbestellen hier klicken"),
		{ID: "h", Subject: "Hi", Sender: "a@b.example", Headers: map[string]string{"List-Unsubscribe": "<mailto:x@b.example>"}},
	}
	for _, m := range cases {
		c := e.Classify(m)
		assert.Equal(t, model.CategoryNewsletter, c.Category, m.Subject)
		assert.Empty(t, c.FollowUps)
	}
}

func TestNewsletterArchiveOption(t *testing.T) {
	c := NewDefaultEngine(Options{ArchiveNewsletters: true}).Classify(msg("Weekly digest", "x@y.example", ""))
	require.Len(t, c.FollowUps, 1)
	assert.Equal(t, model.ActionArchive, c.FollowUps[0].Kind)
}

func TestJobApplicationReasons(t *testing.T) {
	e := NewDefaultEngine(Options{})
	cases := []struct {
		name   string
		msg    model.Message
		reason string
	}{
		{"confirmation phrase", msg("Vielen Dank für Ihre Bewerbung", "jobs@acme.example", ""), ReasonConfirmation},
		{"rejection with context", msg("Ihre Bewerbung", "jobs@acme.example", "wir müssen Ihnen leider mitteilen"), ReasonRejection},
		{"interview with recruiting", msg("Interview scheduling", "recruiting@acme.example", "for the position"), ReasonInterview},
		{"interview with job title", msg("Vorstellungsgespräch Senior Engineer", "team@acme.example", ""), ReasonInterview},
		{"ats marker", msg("Status update", "no-reply@greenhouse.io", "regarding your candidate profile"), ReasonUpdate},
		{"application then thanks", msg("Ihre Bewerbung - wir bedanken uns", "x@acme.example", ""), ReasonConfirmation},
		{"english received", msg("Your application was received", "x@acme.example", ""), ReasonConfirmation},
		{"english thanks then application", msg("Thanks for submitting your application to Acme", "x@acme.example", ""), ReasonConfirmation},
		{"english application then thanks", msg("Your application at Acme - thanks!", "x@acme.example", ""), ReasonConfirmation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := e.Classify(tc.msg)
			require.Equal(t, model.CategoryJobApplication, c.Category)
			assert.Equal(t, tc.reason, c.Reason)
			assert.Equal(t, []string{LabelApplications, ApplicationLabel(tc.reason)}, c.Labels)
			require.Len(t, c.FollowUps, 1)
			assert.Equal(t, model.ActionAnalyzeApplication, c.FollowUps[0].Kind)
		})
	}
}

func TestPlainMeetingIsNotJobMail(t *testing.T) {
	c := NewDefaultEngine(Options{}).Classify(msg("Termin morgen", "kollege@firma.example", "Microsoft Teams Besprechung"))
	assert.Equal(t, model.CategoryNoFit, c.Category)
}

func TestShortNeedleNeedsWordBoundary(t *testing.T) {
	assert.True(t, containsAny("contact hr today", "hr"))
	assert.False(t, containsAny("ihre nachricht", "hr"))
	assert.True(t, containsAny("Newsletter", "NEWS"))
	assert.False(t, containsAny("", "x"))
}

func TestStableOrderForEqualPriorities(t *testing.T) {
	always := func(name string) Rule {
		return Rule{Name: name, Priority: 5, Category: model.CategoryNoFit,
			Match: func(model.Message) (bool, string) { return true, name }}
	}
	e := NewEngine(Options{}, always("first"), always("second"), Rule{
		Name: "high", Priority: 9, Category: model.CategorySecurity,
		Match: func(model.Message) (bool, string) { return false, "" },
	})

	names := []string{}
	for _, r := range e.Rules() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"high", "first", "second", "no_fit"}, names)
	assert.Equal(t, "first", e.Classify(model.Message{}).Rule)
}
