package persona

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/hupe1980/storymesh/core"
	"gopkg.in/yaml.v3"
)

// DefaultTemplate renders a generated persona.
const DefaultTemplate = `{{.Name}} is {{.Trait}}, has the quirk of {{.Quirk}}, is motivated by {{.Motivation}}, and their flaw is {{.Flaw}}. They speak in a {{lower .Tone}} tone. The time is {{.Clock}} in the {{.Season}}.{{if .Date}} The date is {{.Date}}.{{end}}`

// Traits are the pools personas are drawn from.
type Traits struct {
	Traits      []string `yaml:"traits"`
	Quirks      []string `yaml:"quirks"`
	Motivations []string `yaml:"motivations"`
	Flaws       []string `yaml:"flaws"`
	Tones       []string `yaml:"tones"`
}

// DefaultTraits is a small built-in pool.
func DefaultTraits() Traits {
	return Traits{
		Traits:      []string{"brave", "curious", "shy", "grumpy", "cheerful", "cunning", "honest", "proud"},
		Quirks:      []string{"humming old songs", "counting coins", "quoting proverbs", "whittling wood", "forgetting names"},
		Motivations: []string{"wealth", "family", "revenge", "knowledge", "fame", "duty"},
		Flaws:       []string{"greed", "cowardice", "arrogance", "jealousy", "impatience", "gullibility"},
		Tones:       []string{"warm", "gruff", "formal", "playful", "sarcastic", "nervous"},
	}
}

// LoadTraits reads a YAML trait file. Empty pools are filled from
// DefaultTraits.
func LoadTraits(path string) (Traits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Traits{}, err
	}
	var t Traits
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Traits{}, fmt.Errorf("parse traits %s: %w", path, err)
	}
	return t.withDefaults(), nil
}

func (t Traits) withDefaults() Traits {
	d := DefaultTraits()
	if len(t.Traits) == 0 {
		t.Traits = d.Traits
	}
	if len(t.Quirks) == 0 {
		t.Quirks = d.Quirks
	}
	if len(t.Motivations) == 0 {
		t.Motivations = d.Motivations
	}
	if len(t.Flaws) == 0 {
		t.Flaws = d.Flaws
	}
	if len(t.Tones) == 0 {
		t.Tones = d.Tones
	}
	return t
}

// Options configures a Generator.
type Options struct {
	Template string
	// Rand is the randomness source for trait selection.
	Rand *rand.Rand
}

// Generator creates persona preambles. It is safe for concurrent use.
type Generator struct {
	traits Traits
	tmpl   *template.Template

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator parses the template and returns a Generator.
func NewGenerator(traits Traits, optFns ...func(o *Options)) (*Generator, error) {
	opts := Options{Template: DefaultTemplate}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	tmpl, err := template.New("persona").Funcs(template.FuncMap{
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"default": func(def, val string) string {
			if val == "" {
				return def
			}
			return val
		},
	}).Parse(opts.Template)
	if err != nil {
		return nil, fmt.Errorf("parse persona template: %w", err)
	}
	return &Generator{traits: traits.withDefaults(), tmpl: tmpl, rnd: opts.Rand}, nil
}

type templateData struct {
	Name       string
	Role       string
	Trait      string
	Quirk      string
	Motivation string
	Flaw       string
	Tone       string
	Clock      string
	Season     string
	Date       string
}

// Generate builds a new preamble for name. Traits are drawn at random; this is
// the only randomness in prompt construction and happens once per agent.
func (g *Generator) Generate(name, role string, now core.WorldTime) (string, error) {
	g.mu.Lock()
	data := templateData{
		Name:       name,
		Role:       role,
		Trait:      pick(g.rnd, g.traits.Traits),
		Quirk:      pick(g.rnd, g.traits.Quirks),
		Motivation: pick(g.rnd, g.traits.Motivations),
		Flaw:       pick(g.rnd, g.traits.Flaws),
		Tone:       pick(g.rnd, g.traits.Tones),
	}
	g.mu.Unlock()
	data.Clock = now.Clock()
	data.Season = now.Season
	data.Date = now.Date

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render persona for %s: %w", name, err)
	}
	return buf.String(), nil
}

func pick(r *rand.Rand, pool []string) string {
	return pool[r.Intn(len(pool))]
}

var (
	timeSeasonPattern = regexp.MustCompile(`The time is \d{1,2}:\d{2} in the \w+`)
	timePattern       = regexp.MustCompile(`The time is \d{1,2}:\d{2}`)
	datePattern       = regexp.MustCompile(`The date is \d{4}-\d{2}-\d{2}`)
)

// Refresh rewrites the time, season and date phrases of preamble. Text
// outside those phrases is left untouched.
func Refresh(preamble string, now core.WorldTime) string {
	clock := "The time is " + now.Clock()
	if now.Season != "" {
		preamble = timeSeasonPattern.ReplaceAllLiteralString(preamble, clock+" in the "+now.Season)
	}
	preamble = timePattern.ReplaceAllLiteralString(preamble, clock)
	if now.Date != "" {
		preamble = datePattern.ReplaceAllLiteralString(preamble, "The date is "+now.Date)
	}
	return preamble
}

// SystemClock derives world time from the wall clock: northern-hemisphere
// seasons by month and an ISO date.
type SystemClock struct {
	// Time overrides the wall clock when set.
	Time func() time.Time
}

// Now implements core.WorldClock.
func (c SystemClock) Now() core.WorldTime {
	now := time.Now()
	if c.Time != nil {
		now = c.Time()
	}
	return core.WorldTime{
		Hour:   now.Hour(),
		Minute: now.Minute(),
		Season: season(now.Month()),
		Date:   now.Format("2006-01-02"),
	}
}

func season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
