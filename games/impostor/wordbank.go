package impostor

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/enescakir/emoji"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// CustomTheme is the reserved theme key for client-supplied word lists.
const CustomTheme = "custom"

const (
	minCustomWords = 3
	hintCacheSize  = 128
)

//go:embed words.yaml
var defaultWords []byte

type themeEntry struct {
	Icon  string              `yaml:"icon"`
	Hint  map[string]string   `yaml:"hint"`
	Words map[string][]string `yaml:"words"`
}

type bankFile struct {
	Default  string                `yaml:"default"`
	Fallback map[string]string     `yaml:"fallback"`
	Themes   map[string]themeEntry `yaml:"themes"`
}

// ThemeInfo describes one theme for the public catalog.
type ThemeInfo struct {
	Key       string   `json:"key"`
	Label     string   `json:"label"`
	Icon      string   `json:"icon,omitempty"`
	Languages []string `json:"languages"`
}

// WordBank is the read-only catalog of themes. It is safe for concurrent
// use once loaded.
type WordBank struct {
	defaultLang string
	fallback    map[string]string
	themes      map[string]themeEntry

	// theme/lang -> word -> hint
	hints *lru.ARCCache
}

// DefaultWordBank parses the word bank compiled into the binary.
func DefaultWordBank() (*WordBank, error) {
	return ParseWordBank(defaultWords)
}

// LoadWordBank reads a YAML (or JSON) word bank from path.
func LoadWordBank(path string) (*WordBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read word bank: %w", err)
	}
	return ParseWordBank(data)
}

// ParseWordBank decodes and normalises a word bank document.
func ParseWordBank(data []byte) (*WordBank, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse word bank: %w", err)
	}
	if len(f.Themes) == 0 {
		return nil, errors.New("word bank has no themes")
	}

	hints, err := lru.NewARC(hintCacheSize)
	if err != nil {
		return nil, fmt.Errorf("hint cache: %w", err)
	}

	b := &WordBank{
		defaultLang: normalizeLang(f.Default),
		fallback:    make(map[string]string, len(f.Fallback)),
		themes:      make(map[string]themeEntry, len(f.Themes)),
		hints:       hints,
	}
	if b.defaultLang == "" {
		b.defaultLang = "en"
	}
	for lang, label := range f.Fallback {
		b.fallback[normalizeLang(lang)] = strings.TrimSpace(label)
	}

	for key, t := range f.Themes {
		key = normalizeTheme(key)
		if key == "" || key == CustomTheme {
			return nil, fmt.Errorf("word bank: invalid theme key %q", key)
		}

		entry := themeEntry{
			Icon:  t.Icon,
			Hint:  make(map[string]string, len(t.Hint)),
			Words: make(map[string][]string, len(t.Words)),
		}
		for lang, label := range t.Hint {
			entry.Hint[normalizeLang(lang)] = strings.TrimSpace(label)
		}
		for lang, words := range t.Words {
			clean := make([]string, 0, len(words))
			for _, w := range words {
				if w = strings.TrimSpace(w); w != "" {
					clean = append(clean, w)
				}
			}
			entry.Words[normalizeLang(lang)] = clean
		}
		b.themes[key] = entry
	}

	return b, nil
}

// normalizeLang reduces a language tag to its base ("en-US" -> "en").
func normalizeLang(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	base, _ := tag.Base()
	return base.String()
}

func normalizeTheme(theme string) string {
	return strings.ToLower(strings.TrimSpace(theme))
}

// Lang resolves a requested language to the key used by the bank.
func (b *WordBank) Lang(lang string) string {
	if n := normalizeLang(lang); n != "" {
		return n
	}
	return b.defaultLang
}

// Words returns the word list for theme in lang. The slice is shared and
// must not be modified.
func (b *WordBank) Words(theme, lang string) ([]string, error) {
	entry, ok := b.themes[normalizeTheme(theme)]
	if !ok {
		return nil, ErrInvalidTheme
	}
	words := entry.Words[b.Lang(lang)]
	if len(words) == 0 {
		return nil, ErrInvalidTheme
	}
	return words, nil
}

// Label is the display name of a theme, used as the impostor hint.
func (b *WordBank) Label(theme, lang string) string {
	lang = b.Lang(lang)
	theme = normalizeTheme(theme)
	if theme == CustomTheme {
		return b.fallbackLabel(lang)
	}
	if entry, ok := b.themes[theme]; ok {
		if label := entry.Hint[lang]; label != "" {
			return label
		}
	}
	return cases.Title(language.Make(lang)).String(theme)
}

func (b *WordBank) fallbackLabel(lang string) string {
	if label := b.fallback[lang]; label != "" {
		return label
	}
	if label := b.fallback[b.defaultLang]; label != "" {
		return label
	}
	return "Custom"
}

// Hint derives the label shown to impostors for a round whose secret is
// word. The label never equals the word itself.
func (b *WordBank) Hint(theme, lang, word string) string {
	lang = b.Lang(lang)
	theme = normalizeTheme(theme)
	if theme == CustomTheme {
		return b.fallbackLabel(lang)
	}

	key := theme + "/" + lang
	if cached, ok := b.hints.Get(key); ok {
		if hint, ok := cached.(map[string]string)[word]; ok {
			return hint
		}
	}

	words, err := b.Words(theme, lang)
	if err != nil {
		return b.hintFor(b.Label(theme, lang), lang, word)
	}

	label := b.Label(theme, lang)
	m := make(map[string]string, len(words))
	for _, w := range words {
		m[w] = b.hintFor(label, lang, w)
	}
	b.hints.Add(key, m)

	if hint, ok := m[word]; ok {
		return hint
	}
	return b.hintFor(label, lang, word)
}

func (b *WordBank) hintFor(label, lang, word string) string {
	if strings.EqualFold(label, word) {
		return b.fallbackLabel(lang)
	}
	return label
}

// Themes lists the catalog sorted by key.
func (b *WordBank) Themes() []ThemeInfo {
	out := make([]ThemeInfo, 0, len(b.themes))
	for key, entry := range b.themes {
		langs := make([]string, 0, len(entry.Words))
		for lang, words := range entry.Words {
			if len(words) > 0 {
				langs = append(langs, lang)
			}
		}
		sort.Strings(langs)

		out = append(out, ThemeInfo{
			Key:       key,
			Label:     b.Label(key, b.defaultLang),
			Icon:      emoji.Parse(entry.Icon),
			Languages: langs,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ParseCustomWords cleans a client-supplied list: entries may hold several
// newline separated words, blanks are dropped and duplicates removed
// case-insensitively (first spelling wins).
func ParseCustomWords(entries []string) ([]string, error) {
	seen := make(map[string]bool)
	var words []string
	for _, entry := range entries {
		for _, line := range strings.Split(entry, "\n") {
			w := strings.TrimSpace(line)
			if w == "" {
				continue
			}
			k := strings.ToLower(w)
			if seen[k] || strings.EqualFold(w, Impostor) {
				continue
			}
			seen[k] = true
			words = append(words, w)
		}
	}
	if len(words) < minCustomWords {
		return nil, ErrInvalidTheme
	}
	return words, nil
}
