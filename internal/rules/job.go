package rules

import (
	"regexp"
	"strings"

	"github.com/Martian-dev/inbox-triage/internal/model"
)

var confirmPhrases = []string{
	"vielen dank für ihre bewerbung",
	"vielen dank fuer ihre bewerbung",
	"danke für ihre bewerbung",
	"danke fuer ihre bewerbung",
	"danke für deine bewerbung",
	"danke fuer deine bewerbung",
	"wir haben ihre bewerbung erhalten",
	"wir haben deine bewerbung erhalten",
	"eingangsbestätigung",
	"eingangsbestaetigung",
	"bestätigung ihrer bewerbung",
	"bestätigung deiner bewerbung",
	"thank you for your application",
	"thank you for applying",
	"we received your application",
	"application received",
	"your application has been received",
	"thank you for your interest",
	"we appreciate your interest",
}

var rejectionPhrases = []string{
	"nicht weiter berücksichtigen",
	"nicht weiter beruecksichtigen",
	"leider mitteilen",
	"konnten wir sie leider nicht",
	"konnten wir dich leider nicht",
	"nicht in den engsten kreis",
	"bei der besetzung der stelle",
	"absage",
	"bedauern",
	"keinen günstigeren bescheid",
	"keinen guenstigeren bescheid",
	"alles gute für die zukunft",
	"alles gute fuer die zukunft",
	"gemäß unseren datenschutzbestimmungen löschen",
	"gemaess unseren datenschutzbestimmungen loeschen",
	"unfortunately",
	"not to move forward",
	"decided to move forward with other candidates",
	"we regret to inform",
}

var interviewPhrases = []string{
	"vorstellungsgespräch",
	"vorstellungs-gespräch",
	"interview",
	"wir möchten dich gerne kennen lernen",
	"wir möchten dich gerne kennenlernen",
	"wir moechten dich gerne kennen lernen",
	"wir moechten dich gerne kennenlernen",
	"laden dich ein",
	"einladung zum gespräch",
	"einladung zum gespraech",
	"termin",
	"besprechungs-id",
	"passcode",
	"microsoft teams",
	"jetzt an der besprechung teilnehmen",
	"1. vg",
	"vg -",
}

var recruitingWords = []string{
	"bewerbung",
	"bewerbungsunterlagen",
	"application",
	"candidate",
	"recruit",
	"talent acquisition",
	"hr",
	"career",
	"position",
	"stelle",
	"m/w/d",
}

var applicationDocWords = []string{"unterlagen", "einreichung"}

var atsMarkers = []string{
	"greenhouse",
	"lever",
	"workday",
	"smartrecruiters",
	"personio",
	"ashby",
	"icims",
	"recruitee",
	"teamtailor",
	"breezy",
	"jobvite",
	"successfactors",
}

var (
	jobTitleRe = regexp.MustCompile(`(?i)\b(m/w/d|junior|senior|data engineer|software|entwickler)\b`)

	thanksApplicationRe = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(be)?dank\w*\b.*\bbewerb\w*\b`),
		regexp.MustCompile(`(?i)\bbewerb\w*\b.*\b(be)?dank\w*\b`),
		regexp.MustCompile(`(?i)\bthank\w*\b.*\bapplicat\w*\b`),
		regexp.MustCompile(`(?i)\bapplicat\w*\b.*\bthank\w*\b`),
		regexp.MustCompile(`(?i)\breceiv\w*\b.*\bapplicat\w*\b`),
		regexp.MustCompile(`(?i)\bapplicat\w*\b.*\breceiv\w*\b`),
	}

	interviewRe = regexp.MustCompile(`(?i)\b(interview|vorstellungsgespräch)\b`)
	inviteRe    = regexp.MustCompile(`(?i)\b(einlad\w*|invite\w*|termin)\b`)
)

// JobApplicationRule detects recruiting correspondence. The match reason is
// one of the Reason* constants and selects the Applications child label.
func JobApplicationRule() Rule {
	return Rule{
		Name:       "job_application",
		Priority:   50,
		Category:   model.CategoryJobApplication,
		Confidence: 0.85,
		Match:      matchJobApplication,
		Actions: func(_ model.Message, reason string) []model.ActionSpec {
			return []model.ActionSpec{
				{Kind: model.ActionAddLabel, LabelName: LabelApplications, Reason: reason},
				{Kind: model.ActionAddLabel, LabelName: ApplicationLabel(reason), Reason: reason},
				{Kind: model.ActionAnalyzeApplication, Reason: "extract application status and next steps"},
			}
		},
	}
}

// ApplicationLabel maps a job-application reason to its child label.
func ApplicationLabel(reason string) string {
	switch reason {
	case ReasonConfirmation:
		return LabelApplications + "/Confirmation"
	case ReasonRejection:
		return LabelApplications + "/Rejection"
	case ReasonInterview:
		return LabelApplications + "/Interview"
	default:
		return LabelApplications + "/Update"
	}
}

func matchJobApplication(msg model.Message) (bool, string) {
	hay := strings.ToLower(msg.Subject + "\n" + msg.Sender + "\n" + msg.Snippet)
	recruiting := containsAny(hay, recruitingWords...)

	if containsAny(hay, confirmPhrases...) {
		return true, ReasonConfirmation
	}
	// Rejection wording is common outside recruiting; require context.
	if containsAny(hay, rejectionPhrases...) && (recruiting || containsAny(hay, applicationDocWords...)) {
		return true, ReasonRejection
	}
	// Interview wording alone catches ordinary meeting invites.
	if containsAny(hay, interviewPhrases...) && (recruiting || jobTitleRe.MatchString(hay)) {
		return true, ReasonInterview
	}
	if containsAny(hay, atsMarkers...) && recruiting {
		return true, ReasonUpdate
	}
	for _, re := range thanksApplicationRe {
		if re.MatchString(hay) {
			return true, ReasonConfirmation
		}
	}
	if interviewRe.MatchString(hay) && inviteRe.MatchString(hay) {
		return true, ReasonInterview
	}
	return false, ""
}
