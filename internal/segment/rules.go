package segment

import (
	"regexp"
	"strings"
)

// Section names the phase of the call a block belongs to.
type Section string

const (
	SectionNone         Section = ""
	SectionPresentation Section = "presentation"
	SectionQAndA        Section = "qanda"
)

// RE2's \s is ASCII only; transcripts often carry NBSP and other Zs spaces.
var (
	separatorRe = regexp.MustCompile(`^[\s\p{Zs}]*[-=]{3,}[\s\p{Zs}]*$`)

	sectionRe = regexp.MustCompile(`(?i)^[\s\p{Zs}]*(presentation|q(?:uestions?)?[-\s\p{Zs}]*(?:and|&)?[-\s\p{Zs}]*a(?:nswers?)?)[\s\p{Zs}]*$`)

	operatorRe = regexp.MustCompile(`(?i)^[\s\p{Zs}]*operator[\s\p{Zs}]*,?[\s\p{Zs}]*(?:\[\d+\])?[\s\p{Zs}]*$`)

	// Name, Affiliation - Role(s) [index]
	speakerRe = regexp.MustCompile(`(?i)^[\s\p{Zs}]*(.+?)[\s\p{Zs}]*,[\s\p{Zs}]*.+?(?:-|—|–)[\s\p{Zs}]*([^\[]+?)(?:[\s\p{Zs}]+\[\d+\])?[\s\p{Zs}]*$`)
)

func isSeparator(line string) bool {
	return separatorRe.MatchString(line)
}

// sectionOf reports which section a raw line announces, if any.
func sectionOf(line string) (Section, bool) {
	m := sectionRe.FindStringSubmatch(line)
	if m == nil {
		return SectionNone, false
	}
	if strings.EqualFold(m[1], "presentation") {
		return SectionPresentation, true
	}
	return SectionQAndA, true
}

// A rule inspects one cleaned line and returns a mark kind when it claims
// the line. Rules run in table order; the first claim wins.
type rule func(l line) (Kind, Role, Section, bool)

var scanRules = []rule{
	separatorRule,
	sectionRule,
	operatorRule,
	namedSpeakerRule,
}

func separatorRule(l line) (Kind, Role, Section, bool) {
	if l.separator {
		return KindSeparator, "", SectionNone, true
	}
	return 0, "", SectionNone, false
}

func sectionRule(l line) (Kind, Role, Section, bool) {
	if l.marker {
		return KindSection, "", l.section, true
	}
	return 0, "", SectionNone, false
}

func operatorRule(l line) (Kind, Role, Section, bool) {
	if operatorRe.MatchString(l.text) {
		return KindSpeaker, RoleOperator, SectionNone, true
	}
	return 0, "", SectionNone, false
}

func namedSpeakerRule(l line) (Kind, Role, Section, bool) {
	m := speakerRe.FindStringSubmatch(l.text)
	if m == nil {
		return 0, "", SectionNone, false
	}
	return KindSpeaker, NormalizeRole(m[2]), SectionNone, true
}
