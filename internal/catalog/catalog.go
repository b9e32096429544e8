// Package catalog holds the static portfolio content compiled into the binary.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"portfolio-backend/internal/domain"
)

//go:embed catalog.yaml
var defaultDocument []byte

// Catalog is the static content: profile, hand-picked projects, the
// assistant persona and its opening line.
type Catalog struct {
	Profile  domain.Profile   `yaml:"profile"`
	Projects []domain.Project `yaml:"projects"`
	Greeting string           `yaml:"greeting"`
	Persona  string           `yaml:"persona"`
}

// Default parses the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultDocument)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	c.Persona = strings.TrimSpace(c.Persona)
	c.Greeting = strings.TrimSpace(c.Greeting)
	return &c, nil
}

func (c *Catalog) validate() error {
	if strings.TrimSpace(c.Persona) == "" {
		return errors.New("catalog: persona must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("catalog: project %d has no id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("catalog: duplicate project id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// StaticProjects returns a copy of the hand-picked projects.
func (c *Catalog) StaticProjects() []domain.Project {
	out := make([]domain.Project, len(c.Projects))
	copy(out, c.Projects)
	return out
}
