package significance

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/storymesh/core"
)

// DefaultSignificance is used when the significance tag is missing or
// unparsable.
const DefaultSignificance = 5

var (
	summaryPattern      = regexp.MustCompile(`(?s)\[SUMMARY\](.*?)(?:\[SIGNIFICANCE|$)`)
	significancePattern = regexp.MustCompile(`\[SIGNIFICANCE:\s*(\d+)\]`)
	nonNumeric          = regexp.MustCompile(`[^\d-]`)
)

// Summary is the parsed summarization answer.
type Summary struct {
	Text         string
	Significance int
	// Tagged reports whether a [SUMMARY] block was found. Without it Text is
	// the whole answer.
	Tagged bool
	// Defaulted reports that Significance fell back to DefaultSignificance.
	Defaulted bool
}

// ParseSummary extracts the summary block and rating from a model answer.
func ParseSummary(text string) Summary {
	s := Summary{Text: text, Significance: DefaultSignificance, Defaulted: true}
	if m := summaryPattern.FindStringSubmatch(text); m != nil {
		s.Text = strings.TrimSpace(m[1])
		s.Tagged = true
	}
	if m := significancePattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			s.Significance = min(n, 10)
			s.Defaulted = false
		}
	}
	return s
}

// Effect kinds understood by the pipeline. Other kinds parse but are no-ops.
const (
	EffectRelation = "relation"
	EffectTitle    = "title"
	EffectItem     = "item"
)

// Effect is one completed Character/Effect/Target/Value block.
type Effect struct {
	Character string
	Kind      string
	Target    string
	Value     int
}

// EffectParser is a single-pass parser over the effect micro-format. Fields
// persist across lines; a block completes as soon as all four are set and the
// fields are then reset.
type EffectParser struct {
	character, kind, target, value *string
}

// Feed consumes one line and returns the effects completed by it. A
// comma-separated Character yields one effect per name.
func (p *EffectParser) Feed(line string) []Effect {
	line = strings.TrimSpace(line)
	key, val, ok := strings.Cut(line, ":")
	if !ok {
		return nil
	}
	val = strings.TrimSpace(val)
	switch key {
	case "Character":
		p.character = &val
	case "Effect":
		p.kind = &val
	case "Target":
		p.target = &val
	case "Value":
		p.value = &val
	default:
		return nil
	}
	if p.character == nil || p.kind == nil || p.target == nil || p.value == nil {
		return nil
	}

	value := parseValue(*p.value)
	var out []Effect
	for _, name := range strings.Split(*p.character, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		out = append(out, Effect{
			Character: name,
			Kind:      strings.ToLower(*p.kind),
			Target:    *p.target,
			Value:     value,
		})
	}
	p.character, p.kind, p.target, p.value = nil, nil, nil, nil
	return out
}

// ParseEffects runs an EffectParser over every line of text.
func ParseEffects(text string) []Effect {
	var p EffectParser
	var out []Effect
	for _, line := range strings.Split(text, "\n") {
		out = append(out, p.Feed(line)...)
	}
	return out
}

// parseValue keeps digits and minus signs; anything unparsable is 0.
func parseValue(s string) int {
	n, err := strconv.Atoi(nonNumeric.ReplaceAllString(s, ""))
	if err != nil {
		return 0
	}
	return n
}

// Clamp bounds delta to [-limit, limit]. A non-positive limit disables it.
func Clamp(delta, limit int) int {
	if limit <= 0 {
		return delta
	}
	return max(-limit, min(limit, delta))
}

// FindingSeparator delimits finding blocks.
const FindingSeparator = "---"

// NothingSignificant is the answer for sessions without findings.
const NothingSignificant = "Nothing significant"

// ParseFindings splits the classification answer into findings. Blocks
// missing Type, Target or Information, or with an unknown Type, are dropped.
func ParseFindings(text string) []core.Finding {
	if strings.Contains(text, NothingSignificant) {
		return nil
	}
	var out []core.Finding
	for _, block := range strings.Split(text, FindingSeparator) {
		if f, ok := parseFinding(block); ok {
			out = append(out, f)
		}
	}
	return out
}

func parseFinding(block string) (core.Finding, bool) {
	fields := map[string]string{}
	for _, line := range strings.Split(block, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		switch k := strings.ToLower(strings.TrimSpace(key)); k {
		case "type", "target", "importance", "information":
			fields[k] = strings.TrimSpace(val)
		}
	}
	if fields["type"] == "" || fields["target"] == "" || fields["information"] == "" {
		return core.Finding{}, false
	}

	var kind core.FindingKind
	switch strings.ToUpper(strings.Trim(fields["type"], "[] ")) {
	case "PERSONAL":
		kind = core.FindingPersonal
	case "RUMOR":
		kind = core.FindingRumor
	default:
		return core.Finding{}, false
	}
	return core.Finding{
		Kind:        kind,
		Target:      fields["target"],
		Importance:  core.ParseImportance(strings.Trim(fields["importance"], "[] ")),
		Information: fields["information"],
	}, true
}

// Placement is where one finding is recorded: an agent's persona context, or
// the session location when Agent is empty.
type Placement struct {
	Agent string
	Text  string
}

// Route maps findings onto agents and the location. Only names in agents are
// valid personal targets; findings without any valid target become location
// rumors.
func Route(findings []core.Finding, agents []string) []Placement {
	valid := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		valid[a] = struct{}{}
	}

	var out []Placement
	for _, f := range findings {
		rumor := Placement{Text: f.Importance.RumorPrefix() + f.Information}
		if f.Kind == core.FindingRumor && strings.EqualFold(f.Target, "location") {
			out = append(out, rumor)
			continue
		}

		var routed bool
		for _, name := range strings.Split(f.Target, ",") {
			name = strings.TrimSpace(name)
			if _, ok := valid[name]; !ok {
				continue
			}
			out = append(out, Placement{Agent: name, Text: f.Importance.PersonalPrefix() + f.Information})
			routed = true
		}

		switch {
		case !routed:
			out = append(out, rumor)
		case f.Kind == core.FindingRumor:
			out = append(out, Placement{Text: f.Importance.RumorPrefix() + "Rumor: " + f.Information})
		}
	}
	return out
}
