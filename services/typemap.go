package services

import (
	"sort"
	"strings"
	"unicode"

	"ancer-engine/config"
)

type typeKeyword struct {
	phrase string
	slug   string
}

// TypeMapper translates free-text property types onto the canonical
// taxonomy and answers type-group equivalence.
type TypeMapper struct {
	keywords []typeKeyword
	groups   map[string]string
	members  map[string][]string
}

// NewTypeMapper builds a mapper from a keyword dictionary.
func NewTypeMapper(d *config.TypeDictionary) *TypeMapper {
	m := &TypeMapper{
		groups:  make(map[string]string),
		members: make(map[string][]string),
	}
	for _, t := range d.Types {
		group := t.Group
		if group == "" {
			group = t.Slug
		}
		m.groups[t.Slug] = group
		m.members[group] = append(m.members[group], t.Slug)

		m.keywords = append(m.keywords, typeKeyword{phrase: wordsOf(t.Slug), slug: t.Slug})
		for _, kw := range t.Keywords {
			if p := wordsOf(kw); p != "" {
				m.keywords = append(m.keywords, typeKeyword{phrase: p, slug: t.Slug})
			}
		}
	}
	// Longest phrase first so "semi detached duplex" beats "duplex".
	sort.SliceStable(m.keywords, func(i, j int) bool {
		return len(m.keywords[i].phrase) > len(m.keywords[j].phrase)
	})
	return m
}

// Canonical maps free text onto a canonical type slug.
func (m *TypeMapper) Canonical(text string) (string, bool) {
	words := wordsOf(text)
	if words == "" {
		return "", false
	}
	if _, ok := m.groups[strings.ReplaceAll(words, " ", "-")]; ok {
		return strings.ReplaceAll(words, " ", "-"), true
	}
	padded := " " + words + " "
	for _, kw := range m.keywords {
		if strings.Contains(padded, " "+kw.phrase+" ") {
			return kw.slug, true
		}
	}
	return "", false
}

// Equivalents returns every canonical slug in the same group as slug,
// including slug itself. Unknown slugs are only equivalent to themselves.
func (m *TypeMapper) Equivalents(slug string) []string {
	group, ok := m.groups[slug]
	if !ok {
		return []string{slug}
	}
	return append([]string(nil), m.members[group]...)
}

// Equivalent reports whether two canonical types are exact or share a group.
func (m *TypeMapper) Equivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	ga, okA := m.groups[a]
	gb, okB := m.groups[b]
	return okA && okB && ga == gb
}

// wordsOf folds text to lower-case words separated by single spaces.
func wordsOf(s string) string {
	parts := strings.FieldsFunc(foldText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '&'
	})
	return strings.Join(parts, " ")
}
