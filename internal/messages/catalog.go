// Package messages holds the assistant's spoken replies.
package messages

import (
	_ "embed"
	"fmt"
	"math/rand"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hray3182/DoseLine/internal/models"
)

//go:embed it.yaml
var italian []byte

// Picker chooses one of n variants.
type Picker func(n int) int

// First always picks the first variant. Tests use it.
func First(int) int { return 0 }

type variants []string

func (v *variants) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = variants{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	return fmt.Errorf("line %d: message must be a string or a list of strings", node.Line)
}

// Catalog renders message keys.
type Catalog struct {
	entries map[string]variants
	pick    Picker
}

// Load parses a YAML catalog. A nil picker picks variants at random.
func Load(data []byte, pick Picker) (*Catalog, error) {
	var entries map[string]variants
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}
	if pick == nil {
		pick = rand.Intn
	}
	return &Catalog{entries: entries, pick: pick}, nil
}

// Italian returns the embedded it-IT catalog.
func Italian(pick Picker) (*Catalog, error) {
	return Load(italian, pick)
}

// T renders key with args. Unknown keys render as the key itself.
func (c *Catalog) T(key string, args ...any) string {
	vs := c.entries[key]
	if len(vs) == 0 {
		return key
	}
	msg := vs[0]
	if len(vs) > 1 {
		msg = vs[c.pick(len(vs))]
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Has reports whether key is in the catalog.
func (c *Catalog) Has(key string) bool {
	return len(c.entries[key]) > 0
}

func (c *Catalog) AlertText(t models.Therapy) string {
	if t.Posology == "" {
		return strings.TrimSuffix(c.T("ALERT_TEXT", t.Name(), ""), ", ")
	}
	return c.T("ALERT_TEXT", t.Name(), t.Posology)
}

func (c *Catalog) ConfirmationText(t models.Therapy) string {
	return c.T("CONFIRMATION_TEXT", t.Name())
}

// List joins items the Italian way: "a, b e c".
func List(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " e " + items[len(items)-1]
}
