package imageopt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Category is a size class with a byte budget per encoded output.
type Category struct {
	Name     string
	Budget   int64
	Patterns []string
}

const (
	CategoryThumbnail = "thumbnail"
	CategoryStandard  = "standard"
	CategoryLarge     = "large"
)

// DefaultCategories are matched in order; a category without patterns is the fallback.
func DefaultCategories() []Category {
	return []Category{
		{Name: CategoryThumbnail, Budget: 100 * 1024, Patterns: []string{"thumb", "icon", "avatar", "_sm"}},
		{Name: CategoryLarge, Budget: 1024 * 1024, Patterns: []string{"hero", "banner", "background", "cover", "large"}},
		{Name: CategoryStandard, Budget: 500 * 1024},
	}
}

// Classifier picks a Category for a file: explicit per-file entries first,
// then the first category whose pattern is a substring of the lower-cased
// file name, then the fallback.
type Classifier struct {
	categories []Category
	fallback   Category
	files      map[string]string
}

func NewClassifier(categories []Category, files map[string]string) (*Classifier, error) {
	c := &Classifier{files: map[string]string{}}
	hasFallback := false
	for _, cat := range categories {
		if cat.Budget <= 0 {
			return nil, fmt.Errorf("category %q needs a positive budget", cat.Name)
		}
		if len(cat.Patterns) == 0 {
			if hasFallback {
				return nil, fmt.Errorf("category %q: only one category may omit patterns", cat.Name)
			}
			c.fallback = cat
			hasFallback = true
			continue
		}
		lowered := make([]string, len(cat.Patterns))
		for i, p := range cat.Patterns {
			lowered[i] = strings.ToLower(p)
		}
		cat.Patterns = lowered
		c.categories = append(c.categories, cat)
	}
	if !hasFallback {
		return nil, fmt.Errorf("one category without patterns is required as fallback")
	}

	for name, catName := range files {
		if _, ok := c.byName(catName); !ok {
			return nil, fmt.Errorf("file %q refers to unknown category %q", name, catName)
		}
		c.files[name] = catName
	}
	return c, nil
}

func DefaultClassifier() *Classifier {
	c, _ := NewClassifier(DefaultCategories(), nil)
	return c
}

func (c *Classifier) byName(name string) (Category, bool) {
	if c.fallback.Name == name {
		return c.fallback, true
	}
	for _, cat := range c.categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}

func (c *Classifier) Classify(filename string) Category {
	base := filepath.Base(filename)
	if name, ok := c.files[base]; ok {
		cat, _ := c.byName(name)
		return cat
	}
	lower := strings.ToLower(base)
	for _, cat := range c.categories {
		for _, p := range cat.Patterns {
			if strings.Contains(lower, p) {
				return cat
			}
		}
	}
	return c.fallback
}

type categoryFile struct {
	Categories []struct {
		Name     string   `yaml:"name"`
		MaxSize  string   `yaml:"max_size"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"categories"`
	Files map[string]string `yaml:"files"`
}

// LoadClassifier reads a YAML category file, for example:
//
//	categories:
//	  - name: thumbnail
//	    max_size: 100KiB
//	    patterns: [thumb, icon]
//	  - name: standard
//	    max_size: 500KiB
//	files:
//	  team-photo.png: thumbnail
//
// When the file has no categories the defaults are used with its file entries.
func LoadClassifier(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading category file: %w", err)
	}
	var cf categoryFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed parsing category file %s: %w", path, err)
	}

	categories := DefaultCategories()
	if len(cf.Categories) > 0 {
		categories = categories[:0]
		for _, entry := range cf.Categories {
			budget, err := humanize.ParseBytes(entry.MaxSize)
			if err != nil {
				return nil, fmt.Errorf("category %q: invalid max_size %q: %w", entry.Name, entry.MaxSize, err)
			}
			categories = append(categories, Category{Name: entry.Name, Budget: int64(budget), Patterns: entry.Patterns})
		}
	}
	return NewClassifier(categories, cf.Files)
}
