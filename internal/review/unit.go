package review

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	frontmatterDelimiter = "---"
	sectionDialogue      = "# Dialogue"
	sectionAnswers       = "# Answers"
)

var (
	errNoFrontmatter      = errors.New("missing YAML frontmatter (---)")
	errUnterminatedHeader = errors.New("YAML frontmatter is not closed with ---")
	cefrLevels            = map[string]bool{"A1": true, "A2": true, "B1": true, "B2": true, "C1": true, "C2": true}
)

// Frontmatter is the YAML header of a unit file.
type Frontmatter struct {
	UnitID     string `yaml:"unitId"`
	Category   string `yaml:"category"`
	Topic      string `yaml:"topic"`
	Context    string `yaml:"context"`
	Difficulty string `yaml:"difficulty"`
}

// Unit is a parsed unit file.
type Unit struct {
	Frontmatter Frontmatter
	Sections    []string
	Body        string
}

// HasSection reports whether the body has a heading line equal to heading.
func (u Unit) HasSection(heading string) bool {
	for _, section := range u.Sections {
		if section == heading {
			return true
		}
	}
	return false
}

// ParseUnit splits payload into frontmatter and body.
func ParseUnit(payload []byte) (Unit, error) {
	text := strings.ReplaceAll(string(payload), "\r\n", "\n")
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return Unit{}, errNoFrontmatter
	}
	rest := text[len(frontmatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelimiter+"\n")
	header := ""
	body := ""
	switch {
	case strings.HasPrefix(rest, frontmatterDelimiter+"\n"):
		body = rest[len(frontmatterDelimiter)+1:]
	case end >= 0:
		header = rest[:end]
		body = rest[end+len(frontmatterDelimiter)+2:]
	case strings.HasSuffix(rest, "\n"+frontmatterDelimiter):
		header = strings.TrimSuffix(rest, "\n"+frontmatterDelimiter)
	default:
		return Unit{}, errUnterminatedHeader
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Unit{}, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	unit := Unit{Frontmatter: fm, Body: body}
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "#") {
			unit.Sections = append(unit.Sections, line)
		}
	}
	return unit, nil
}

// Template returns the skeleton written by `stage create`.
func Template(id string) ([]byte, error) {
	header, err := yaml.Marshal(Frontmatter{UnitID: id, Difficulty: "B2"})
	if err != nil {
		return nil, fmt.Errorf("render frontmatter: %w", err)
	}
	var b bytes.Buffer
	b.WriteString(frontmatterDelimiter + "\n")
	b.Write(header)
	b.WriteString(frontmatterDelimiter + "\n\n")
	b.WriteString(sectionDialogue + "\n\n")
	b.WriteString("[Speaker 1]: [dialogue line]\n")
	b.WriteString("[Speaker 2]: [dialogue line]\n\n")
	b.WriteString(sectionAnswers + "\n\n")
	b.WriteString("Blank 0: [answer option A]\n")
	b.WriteString("Blank 1: [answer option B]\n")
	return b.Bytes(), nil
}
