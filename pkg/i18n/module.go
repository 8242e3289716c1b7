package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

const DEFAULT_LOCALE = "en"

//go:embed locales/*.yaml
var locales embed.FS

// Localizer formats a message key for one recipient.
type Localizer interface {
	Localize(key string, args ...interface{}) string
}

// Bundle holds the messages of one locale. Keys it lacks are looked up in
// its fallback, and failing that the key itself is used as the format.
type Bundle struct {
	Locale   string
	messages map[string]string
	fallback *Bundle
}

var _ Localizer = (*Bundle)(nil)

func Parse(locale string, data []byte, fallback *Bundle) (*Bundle, error) {
	messages := make(map[string]string)
	if err := yaml.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("could not parse locale %s: %w", locale, err)
	}

	return &Bundle{
		Locale:   locale,
		messages: messages,
		fallback: fallback,
	}, nil
}

func (b *Bundle) lookup(key string) (string, bool) {
	for bundle := b; bundle != nil; bundle = bundle.fallback {
		if format, ok := bundle.messages[key]; ok {
			return format, true
		}
	}
	return "", false
}

func (b *Bundle) Has(key string) bool {
	_, ok := b.lookup(key)
	return ok
}

func (b *Bundle) Localize(key string, args ...interface{}) string {
	format, ok := b.lookup(key)
	if !ok {
		format = key
	}

	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Catalog is every embedded locale, each falling back to English.
type Catalog struct {
	bundles map[string]*Bundle
}

func LoadCatalog() (*Catalog, error) {
	read := func(locale string) ([]byte, error) {
		return locales.ReadFile(path.Join("locales", locale+".yaml"))
	}

	data, err := read(DEFAULT_LOCALE)
	if err != nil {
		return nil, err
	}

	base, err := Parse(DEFAULT_LOCALE, data, nil)
	if err != nil {
		return nil, err
	}

	catalog := &Catalog{
		bundles: map[string]*Bundle{
			DEFAULT_LOCALE: base,
		},
	}

	entries, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		locale := strings.TrimSuffix(entry.Name(), ".yaml")
		if locale == DEFAULT_LOCALE {
			continue
		}

		data, err := read(locale)
		if err != nil {
			return nil, err
		}

		bundle, err := Parse(locale, data, base)
		if err != nil {
			return nil, err
		}
		catalog.bundles[locale] = bundle
	}

	return catalog, nil
}

// Get returns the bundle for locale. Region suffixes are ignored ("zh-CN"
// resolves to "zh") and unknown locales get the default.
func (c *Catalog) Get(locale string) *Bundle {
	locale = strings.ToLower(locale)
	if bundle, ok := c.bundles[locale]; ok {
		return bundle
	}

	if i := strings.IndexAny(locale, "-_"); i > 0 {
		if bundle, ok := c.bundles[locale[:i]]; ok {
			return bundle
		}
	}

	return c.bundles[DEFAULT_LOCALE]
}

func (c *Catalog) Default() *Bundle {
	return c.bundles[DEFAULT_LOCALE]
}
