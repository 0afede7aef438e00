package mpath

import (
	"regexp"
	"strings"
)

// Entry is one line of a config section: an attribute, or a subsection
// holding its own attributes in Children.
type Entry struct {
	Key      string
	Value    string
	Children Section
	Sub      bool
}

// Section is the ordered content of a config section.
type Section []Entry

// Get returns the value of the first attribute named key.
func (s Section) Get(key string) (string, bool) {
	for _, e := range s {
		if !e.Sub && e.Key == key {
			return e.Value, true
		}
	}

	return "", false
}

// Subsections returns the subsections named name in order.
func (s Section) Subsections(name string) []Section {
	subs := []Section{}

	for _, e := range s {
		if e.Sub && e.Key == name {
			subs = append(subs, e.Children)
		}
	}

	return subs
}

// ConfigTree is a parsed multipathd configuration dump: two levels of
// brace-delimited sections.
type ConfigTree struct {
	order    []string
	sections map[string]Section
}

// Section returns the named section.
func (t ConfigTree) Section(name string) (Section, bool) {
	s, ok := t.sections[name]
	return s, ok
}

// Names returns the section names in the order they were parsed.
func (t ConfigTree) Names() []string {
	return append([]string{}, t.order...)
}

// Len - number of sections.
func (t ConfigTree) Len() int {
	return len(t.order)
}

// String renders the tree in the multipathd dump grammar.
func (t ConfigTree) String() string {
	var b strings.Builder

	for _, name := range t.order {
		b.WriteString(name + " {\n")

		for _, e := range t.sections[name] {
			if !e.Sub {
				b.WriteString("\t" + e.Key + " " + e.Value + "\n")
				continue
			}

			b.WriteString("\t" + e.Key + " {\n")

			for _, c := range e.Children {
				b.WriteString("\t\t" + c.Key + " " + c.Value + "\n")
			}

			b.WriteString("\t}\n")
		}

		b.WriteString("}\n")
	}

	return b.String()
}

//nolint:gochecknoglobals
var (
	reSectionBegin    = regexp.MustCompile(`^([^\t ]+) \{$`)
	reSectionEnd      = regexp.MustCompile(`^\}$`)
	reSectionAttr     = regexp.MustCompile(`^\t([^\t ]+) (.*[^{])$`)
	reSubsectionBegin = regexp.MustCompile(`^\t([^\t ]+) \{$`)
	reSubsectionEnd   = regexp.MustCompile(`^\t\}$`)
	reSubsectionAttr  = regexp.MustCompile(`^\t\t([^\t ]+) (.*[^{])$`)
)

// ParseConfig parses the output of "multipathd show config".
//
// Lines that match none of the grammar's line forms are skipped so that new
// directives in newer multipathd versions do not break parsing. The same
// leniency means unbalanced braces give a partial tree rather than an error:
// a section is only stored when its closing brace is seen.
func ParseConfig(lines []string) ConfigTree {
	tree := ConfigTree{sections: map[string]Section{}}

	var section, subsection string
	var sectionValue, subsectionValue Section
	var inSection, inSubsection bool

	for _, line := range lines {
		line = strings.TrimRight(line, "\r\n")

		if m := reSectionBegin.FindStringSubmatch(line); m != nil {
			section, sectionValue, inSection = m[1], Section{}, true
			inSubsection = false

			continue
		}

		if m := reSectionAttr.FindStringSubmatch(line); m != nil {
			if inSection {
				sectionValue = append(sectionValue, Entry{Key: m[1], Value: strings.TrimSpace(m[2])})
			}

			continue
		}

		if m := reSubsectionBegin.FindStringSubmatch(line); m != nil {
			if inSection {
				subsection, subsectionValue, inSubsection = m[1], Section{}, true
			}

			continue
		}

		if m := reSubsectionAttr.FindStringSubmatch(line); m != nil {
			if inSubsection {
				subsectionValue = append(subsectionValue, Entry{Key: m[1], Value: strings.TrimSpace(m[2])})
			}

			continue
		}

		if reSubsectionEnd.MatchString(line) {
			if inSubsection {
				sectionValue = append(sectionValue,
					Entry{Key: subsection, Children: subsectionValue, Sub: true})
				inSubsection = false
			}

			continue
		}

		if reSectionEnd.MatchString(line) {
			if inSection {
				if _, ok := tree.sections[section]; !ok {
					tree.order = append(tree.order, section)
				}

				tree.sections[section] = sectionValue
				inSection, inSubsection = false, false
			}

			continue
		}
	}

	return tree
}

// ParseConfigText splits out on newlines and calls ParseConfig.
func ParseConfigText(out string) ConfigTree {
	return ParseConfig(strings.Split(out, "\n"))
}
