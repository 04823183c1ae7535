// Package intent maps free text, typed or transcribed, to a small safety intent
// vocabulary with a canned reply.
package intent

import (
	"regexp"
	"strings"
)

// Intent is a classified category of user input.
type Intent string

const (
	SOS            Intent = "sos"
	RouteSafety    Intent = "route_safety"
	CheckIn        Intent = "checkin"
	IncidentReport Intent = "incident_report"
	VoiceMode      Intent = "voice_mode"
	Unknown        Intent = "unknown"
)

// Command is a follow-up action the host may perform for a message.
type Command string

const (
	CommandSOS   Command = "sos"
	CommandShare Command = "share"
)

// Greeting opens every assistant conversation.
const Greeting = "Hi! I'm your safety assistant. How can I help?"

// UnknownResponse is returned when no rule matches.
const UnknownResponse = "I'm here to help with safety tips, SOS, location sharing, and more. Ask me anything!"

// Rule pairs a pattern with the intent and reply it selects.
type Rule struct {
	Pattern  *regexp.Regexp
	Intent   Intent
	Response string
}

// Result is the outcome of Classify.
type Result struct {
	Intent   Intent    `json:"intent"`
	Response string    `json:"response"`
	Commands []Command `json:"commands,omitempty"`
}

// rules is evaluated top to bottom; the first match wins.
var rules = []Rule{
	{
		Pattern:  regexp.MustCompile(`sos|help|emergency`),
		Intent:   SOS,
		Response: "If this is an emergency, press the big SOS button. I can also share your live location with your trusted contacts.",
	},
	{
		Pattern:  regexp.MustCompile(`walk|route|safe`),
		Intent:   RouteSafety,
		Response: "For safer travel, enable live tracking and share with guardians. I can also suggest staying on well-lit streets and avoiding isolated shortcuts.",
	},
	{
		Pattern:  regexp.MustCompile(`check|timer|remind`),
		Intent:   CheckIn,
		Response: "Use the Check-in timer to set an auto-alert if you don't confirm you're safe.",
	},
	{
		Pattern:  regexp.MustCompile(`report|incident|photo|audio`),
		Intent:   IncidentReport,
		Response: "You can record photo/audio as evidence and save it securely when backend is connected.",
	},
	{
		Pattern:  regexp.MustCompile(`voice|hands-?free`),
		Intent:   VoiceMode,
		Response: "Enable voice commands to trigger SOS or share location without touching your phone.",
	},
}

var sharePattern = regexp.MustCompile(`share|location|guardian`)

// Rules returns a copy of the ordered rule table.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// Classify lower-cases text and returns the first matching rule's intent and
// reply, or Unknown with the generic reply. It has no state and no randomness.
func Classify(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))

	res := Result{Intent: Unknown, Response: UnknownResponse}
	if normalized != "" {
		for _, rule := range rules {
			if rule.Pattern.MatchString(normalized) {
				res.Intent = rule.Intent
				res.Response = rule.Response
				break
			}
		}
	}

	if res.Intent == SOS {
		res.Commands = append(res.Commands, CommandSOS)
	}
	if sharePattern.MatchString(normalized) {
		res.Commands = append(res.Commands, CommandShare)
	}
	return res
}

// Has reports whether c is among the result's commands.
func (r Result) Has(c Command) bool {
	for _, existing := range r.Commands {
		if existing == c {
			return true
		}
	}
	return false
}
