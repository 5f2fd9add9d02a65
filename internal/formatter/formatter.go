// Package formatter builds Report records and the Telegram notification
// text for them. Everything here is pure; no I/O.
package formatter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"civic-voice-go/internal/types"
)

const (
	excerptLimit     = 200
	locationLimit    = 60
	noLocation       = "Location not specified"
	receivedTimeForm = "2006-01-02 15:04:05 MST"
)

var categoryEmoji = map[types.Category]string{
	types.CategoryInfrastructure: "🏗️",
	types.CategorySecurity:       "🚨",
	types.CategoryHealth:         "🏥",
	types.CategoryEducation:      "🎓",
	types.CategoryWaste:          "🗑️",
	types.CategoryOther:          "📝",
}

var priorityEmoji = map[types.Priority]string{
	types.PriorityUrgent: "🔴",
	types.PriorityHigh:   "🟠",
	types.PriorityMedium: "🟡",
	types.PriorityLow:    "🟢",
}

// Format builds the Report for a call and the MarkdownV2 message announcing it.
func Format(ev types.CallEvent, cls types.ClassificationResult, pri types.PriorityResult, id string) (types.Report, string) {
	rep := types.Report{
		ID:                  id,
		CallControlID:       ev.CallControlID,
		Category:            cls.Category,
		Priority:            pri.Priority,
		PriorityReason:      pri.Reason,
		MatchedKeywords:     append([]string(nil), cls.MatchedKeywords...),
		TranscriptText:      ev.TranscriptText,
		Location:            ExtractLocation(ev.TranscriptText),
		CallDurationSeconds: ev.CallDurationSeconds,
		CreatedAt:           ev.ReceivedAt,
		NotificationStatus:  types.StatusPending,
	}
	return rep, Message(rep)
}

// Message renders the notification text for an existing report.
func Message(rep types.Report) string {
	loc := rep.Location
	if loc == "" {
		loc = noLocation
	}
	var b strings.Builder
	b.WriteString("🏛️ *CIVIC VOICE REPORT*\n\n")
	fmt.Fprintf(&b, "%s *Category:* %s\n", emoji(categoryEmoji[rep.Category], "📝"), EscapeMarkdown(title(string(rep.Category))))
	fmt.Fprintf(&b, "%s *Priority:* %s\n", emoji(priorityEmoji[rep.Priority], "🟡"), EscapeMarkdown(title(string(rep.Priority))))
	fmt.Fprintf(&b, "📍 *Location:* %s\n", EscapeMarkdown(loc))
	fmt.Fprintf(&b, "🕒 *Received:* %s\n\n", EscapeMarkdown(rep.CreatedAt.UTC().Format(receivedTimeForm)))
	b.WriteString("📞 *Report Summary:*\n")
	b.WriteString(EscapeMarkdown(Excerpt(rep.TranscriptText, excerptLimit)))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "📱 *Call Duration:* %d seconds\n\n", rep.CallDurationSeconds)
	b.WriteString(EscapeMarkdown("---"))
	b.WriteString("\n_")
	b.WriteString(EscapeMarkdown("Report ID: " + rep.ID))
	b.WriteString("_")
	return b.String()
}

// markdownV2Special are the characters Telegram MarkdownV2 requires escaped.
const markdownV2Special = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdown neutralizes MarkdownV2 control characters and drops
// non-printable runes other than newlines and tabs.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == utf8.RuneError:
			continue
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(markdownV2Special, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Excerpt shortens s to at most limit runes, breaking on a space where
// possible and marking the cut with an ellipsis.
func Excerpt(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)[:limit]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

var (
	locationRe = regexp.MustCompile(`(?i)\b(?:near|in|at|on|along|around|from|area)\s+(?:the\s+)?([A-Za-z][A-Za-z' ]*)`)
	stopWords  = map[string]bool{
		"and": true, "but": true, "which": true, "that": true, "where": true, "because": true,
		"since": true, "so": true, "is": true, "was": true, "are": true, "has": true,
		"have": true, "for": true, "with": true, "it": true, "we": true, "please": true,
	}
)

// ExtractLocation returns the place phrase following the first location
// marker in text (near, in, at, on, ...), or "" when there is none.
func ExtractLocation(text string) string {
	m := locationRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	var words []string
	n := 0
	for _, w := range strings.Fields(m[1]) {
		if stopWords[strings.ToLower(w)] {
			break
		}
		if n+len(w) > locationLimit {
			break
		}
		words = append(words, w)
		n += len(w) + 1
	}
	return strings.Join(words, " ")
}

func title(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func emoji(e, fallback string) string {
	if e == "" {
		return fallback
	}
	return e
}
