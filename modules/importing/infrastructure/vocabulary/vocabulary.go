// Package vocabulary validates reference codes against a versioned YAML or TOML file.
package vocabulary

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultVocabulary []byte

var ErrVocabularyNotFound = errors.New("vocabulary file not found")

type file struct {
	Version int                 `yaml:"version" toml:"version"`
	Domains map[string][]string `yaml:"domains" toml:"domains"`
}

// Vocabulary is read-only after construction.
type Vocabulary struct {
	domains map[string]map[string]struct{}
}

// Default returns the vocabulary bundled with the binary.
func Default() *Vocabulary {
	v, err := Parse(defaultVocabulary)
	if err != nil {
		panic("vocabulary: bundled default is invalid: " + err.Error())
	}
	return v
}

// Load reads path, falling back to the bundled vocabulary when path is empty.
func Load(path string) (*Vocabulary, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrVocabularyNotFound, path)
		}
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(raw)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Vocabulary, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return build(f)
}

func ParseTOML(raw []byte) (*Vocabulary, error) {
	var f file
	if _, err := toml.Decode(string(raw), &f); err != nil {
		return nil, err
	}
	return build(f)
}

func build(f file) (*Vocabulary, error) {
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported vocabulary version: %d", f.Version)
	}
	v := &Vocabulary{domains: make(map[string]map[string]struct{}, len(f.Domains))}
	for domain, codes := range f.Domains {
		domain = strings.TrimSpace(domain)
		set := make(map[string]struct{}, len(codes))
		for i, code := range codes {
			code = normalize(code)
			if code == "" {
				return nil, fmt.Errorf("domain %q code[%d]: empty code", domain, i)
			}
			set[code] = struct{}{}
		}
		v.domains[domain] = set
	}
	return v, nil
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// IsValidCode is case-insensitive. Unknown domains hold no codes.
func (v *Vocabulary) IsValidCode(domain, code string) bool {
	set, ok := v.domains[domain]
	if !ok {
		return false
	}
	_, ok = set[normalize(code)]
	return ok
}

func (v *Vocabulary) Codes(domain string) []string {
	out := make([]string, 0, len(v.domains[domain]))
	for code := range v.domains[domain] {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
