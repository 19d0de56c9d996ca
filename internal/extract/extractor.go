// Package extract pulls client and appointment details out of the free-form
// text people type into calendar events.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	UnknownClient  = "Unknown Client"
	DefaultService = "Grooming Service"
)

var (
	dollarPrefixRe = regexp.MustCompile(`\$\s?(\d+(?:\.\d{1,2})?)`)
	dollarSuffixRe = regexp.MustCompile(`(\d+(?:\.\d{1,2})?)\s?\$`)
	parenDollarRe  = regexp.MustCompile(`\(\s*\$\s?(\d+(?:\.\d{1,2})?)\s*\)`)
	quantityRe     = regexp.MustCompile(`(\d+)\s*[xX×]\s*\$?(\d+(?:\.\d{1,2})?)`)

	leadingNameRe = regexp.MustCompile(`^\s*(\p{L}+(?:[ '\-.&]+\p{L}+)*)`)
	starDigitsRe  = regexp.MustCompile(`\*\s*\d+|\d+`)
	parenRe       = regexp.MustCompile(`\(([^()]*)\)`)
	numberishRe   = regexp.MustCompile(`^[\p{Sc}(*]*\d[\d.,xX×\p{Sc}]*\)?$`)

	phoneRe       = regexp.MustCompile(`(?:\+?1[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	addressLineRe = regexp.MustCompile(`(?im)^\s*(?:address|direcci[oó]n)\s*:\s*(.+?)\s*$`)

	noiseRe = regexp.MustCompile(`[^\p{L}\s'-]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// Info is what could be recovered from one event's text.
type Info struct {
	ClientName string
	PetInfo    string
	Amount     *decimal.Decimal
	Services   []string
	Phone      string
	Address    string
}

// Extractor applies the layered text rules. It is immutable after New and
// safe for concurrent use.
type Extractor struct {
	defaultService string
	prefixRe       *regexp.Regexp
	petTerms       *termMatcher
	serviceTerms   *termMatcher
	anyTerms       *termMatcher
}

func New(v Vocabulary) *Extractor {
	if v.DefaultService == "" {
		v.DefaultService = DefaultService
	}
	x := &Extractor{
		defaultService: v.DefaultService,
		petTerms:       newTermMatcher(v.PetTerms),
		serviceTerms:   newTermMatcher(v.ServiceTerms),
		anyTerms:       newTermMatcher(append(append([]string{}, v.PetTerms...), v.ServiceTerms...)),
	}
	if len(v.BusinessPrefixes) > 0 {
		quoted := make([]string, 0, len(v.BusinessPrefixes))
		for _, p := range sortedByLength(v.BusinessPrefixes) {
			quoted = append(quoted, spacedQuote(p))
		}
		x.prefixRe = regexp.MustCompile(`(?i)^\s*(?:` + strings.Join(quoted, "|") + `)\s*[-:|]*\s*`)
	}
	return x
}

// Extract never fails: missing pieces fall back to documented defaults.
// Each step removes what it consumed from a working copy of summary.
func (x *Extractor) Extract(summary, description string) Info {
	original := strings.TrimSpace(summary)
	work := original
	if x.prefixRe != nil {
		work = x.prefixRe.ReplaceAllString(work, "")
	}

	var info Info
	info.Amount, work = extractAmount(work)

	var name string
	name, work = x.extractName(work)

	info.Services, work = x.extractServices(work, description)
	info.PetInfo = x.extractPetInfo(work)

	if name == "" {
		name = fallbackName(original)
	}
	if name == "" {
		name = UnknownClient
	}
	info.ClientName = name

	info.Phone = findPhone(description)
	if info.Phone == "" {
		info.Phone = findPhone(original)
	}
	if m := addressLineRe.FindStringSubmatch(description); m != nil {
		info.Address = m[1]
	}
	return info
}

func extractAmount(work string) (*decimal.Decimal, string) {
	for _, re := range []*regexp.Regexp{dollarPrefixRe, dollarSuffixRe, parenDollarRe} {
		loc := re.FindStringSubmatchIndex(work)
		if loc == nil {
			continue
		}
		d, err := decimal.NewFromString(work[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		return &d, removeSpan(work, loc[0], loc[1])
	}

	if loc := quantityRe.FindStringSubmatchIndex(work); loc != nil {
		q, qErr := decimal.NewFromString(work[loc[2]:loc[3]])
		p, pErr := decimal.NewFromString(work[loc[4]:loc[5]])
		if qErr == nil && pErr == nil {
			amount := q.Mul(p)
			return &amount, removeSpan(work, loc[0], loc[1])
		}
	}
	return nil, work
}

func (x *Extractor) extractName(work string) (string, string) {
	if m := leadingNameRe.FindStringSubmatchIndex(work); m != nil {
		candidate := x.cutAtTerm(work[m[2]:m[3]])
		if name := cleanName(candidate); name != "" {
			return name, work[m[2]+len(candidate):]
		}
	}

	if i := strings.Index(work, "("); i > 0 {
		candidate := x.cutAtTerm(work[:i])
		if name := cleanName(candidate); name != "" {
			return name, work[len(candidate):]
		}
	}

	if loc := starDigitsRe.FindStringIndex(work); loc != nil && loc[0] > 0 {
		candidate := x.cutAtTerm(work[:loc[0]])
		if name := cleanName(candidate); name != "" {
			return name, work[len(candidate):]
		}
	}

	return "", work
}

// cutAtTerm truncates s before the first vocabulary term. A term at the
// very start yields "".
func (x *Extractor) cutAtTerm(s string) string {
	if x.anyTerms == nil {
		return s
	}
	loc := x.anyTerms.find(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]]
}

func (x *Extractor) extractServices(work, description string) ([]string, string) {
	var services []string
	seen := make(map[string]bool)
	add := func(term string) {
		key := strings.ToLower(spaceRe.ReplaceAllString(term, " "))
		if seen[key] {
			return
		}
		seen[key] = true
		services = append(services, capitalize(key))
	}

	if x.serviceTerms != nil {
		for _, m := range x.serviceTerms.findAll(work) {
			add(m)
		}
		work = x.serviceTerms.replaceAll(work, " ")
		for _, m := range x.serviceTerms.findAll(description) {
			add(m)
		}
	}

	if len(services) == 0 {
		services = []string{x.defaultService}
	}
	return services, work
}

func (x *Extractor) extractPetInfo(work string) string {
	var fragments []string

	if x.petTerms != nil {
		fragments = append(fragments, x.petTerms.findAll(work)...)
		work = x.petTerms.replaceAll(work, " ")
	}

	for _, m := range parenRe.FindAllStringSubmatch(work, -1) {
		if f := cleanFragment(starDigitsRe.ReplaceAllString(m[1], " ")); f != "" {
			fragments = append(fragments, f)
		}
	}
	work = parenRe.ReplaceAllString(work, " ")

	if f := cleanFragment(starDigitsRe.ReplaceAllString(work, " ")); f != "" {
		fragments = append(fragments, f)
	}

	return strings.Join(fragments, " ")
}

// fallbackName returns the first token of the original summary that is not
// a number or a price.
func fallbackName(original string) string {
	for _, tok := range strings.Fields(original) {
		if numberishRe.MatchString(tok) {
			continue
		}
		if name := cleanName(tok); name != "" {
			return name
		}
	}
	return ""
}

func findPhone(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(phoneRe.FindString(s))
}

func cleanName(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	return spaceRe.ReplaceAllString(s, " ")
}

func cleanFragment(s string) string {
	s = noiseRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.Trim(s, " -'")
}

func removeSpan(s string, from, to int) string {
	return s[:from] + " " + s[to:]
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// termMatcher finds vocabulary terms that stand as whole words. RE2's \b
// only knows ASCII word characters, so a term such as "ñandú" would never
// match; word edges are checked against Unicode letters and digits instead.
type termMatcher struct {
	re *regexp.Regexp
}

func newTermMatcher(terms []string) *termMatcher {
	if len(terms) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range sortedByLength(terms) {
		if strings.TrimSpace(t) == "" {
			continue
		}
		quoted = append(quoted, spacedQuote(t))
	}
	if len(quoted) == 0 {
		return nil
	}
	return &termMatcher{re: regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)(?:es|s)?`)}
}

func (m *termMatcher) findAllIndex(s string, n int) [][]int {
	var out [][]int
	for off := 0; off < len(s) && (n < 0 || len(out) < n); {
		loc := m.re.FindStringIndex(s[off:])
		if loc == nil {
			break
		}
		start, end := off+loc[0], off+loc[1]
		if end > start && wordEdge(s, start, end) {
			out = append(out, []int{start, end})
			off = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		off = start + size
	}
	return out
}

// find returns the first whole-word match as a [start, end) pair, or nil.
func (m *termMatcher) find(s string) []int {
	if locs := m.findAllIndex(s, 1); len(locs) > 0 {
		return locs[0]
	}
	return nil
}

func (m *termMatcher) findAll(s string) []string {
	var out []string
	for _, loc := range m.findAllIndex(s, -1) {
		out = append(out, s[loc[0]:loc[1]])
	}
	return out
}

func (m *termMatcher) replaceAll(s, repl string) string {
	locs := m.findAllIndex(s, -1)
	if len(locs) == 0 {
		return s
	}
	var b strings.Builder
	prev := 0
	for _, loc := range locs {
		b.WriteString(s[prev:loc[0]])
		b.WriteString(repl)
		prev = loc[1]
	}
	b.WriteString(s[prev:])
	return b.String()
}

func wordEdge(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// spacedQuote quotes a term so that any run of whitespace matches its spaces.
func spacedQuote(term string) string {
	parts := strings.Fields(term)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}

func sortedByLength(in []string) []string {
	out := append([]string{}, in...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
