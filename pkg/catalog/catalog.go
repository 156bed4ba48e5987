// Package catalog holds the static description of what the tenant exposes:
// API endpoints and the relational mirror's tables. Loaded once at startup
// and never mutated during query handling, so reads need no locking.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Endpoint is one API operation, uniquely identified by (entity, operation).
// Dependencies are endpoint ids, not pointers; the catalog is an arena map
// indexed by stable ids, which keeps it trivially serializable.
type Endpoint struct {
	ID           string            `yaml:"id" json:"id"`
	Entity       string            `yaml:"entity" json:"entity"`
	Operation    string            `yaml:"operation" json:"operation"`
	Method       string            `yaml:"http_method" json:"http_method"`
	URLPattern   string            `yaml:"url_pattern" json:"url_pattern"`
	Required     []string          `yaml:"required_params,omitempty" json:"required_params,omitempty"`
	Optional     []string          `yaml:"optional_params,omitempty" json:"optional_params,omitempty"`
	Notes        string            `yaml:"notes,omitempty" json:"notes,omitempty"`
	Dependencies []string          `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Extra        map[string]string `yaml:"extra,omitempty" json:"-"`
}

// Key returns the (entity, operation) index key.
func (e Endpoint) Key() string {
	return strings.ToLower(e.Entity) + "/" + strings.ToLower(e.Operation)
}

// Column describes one column of a mirror table.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Table describes one table (or graph node) of the relational mirror.
type Table struct {
	Name          string   `yaml:"name" json:"name"`
	Columns       []Column `yaml:"columns" json:"columns"`
	Relationships []string `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// Catalog is the combined API + schema catalog.
type Catalog struct {
	endpoints map[string]Endpoint // keyed by Endpoint.Key()
	byID      map[string]Endpoint
	tables    map[string]Table // keyed by lowercase name
}

// New builds a catalog from loaded definitions, validating uniqueness and
// dependency closure.
func New(endpoints []Endpoint, tables []Table) (*Catalog, error) {
	c := &Catalog{
		endpoints: make(map[string]Endpoint, len(endpoints)),
		byID:      make(map[string]Endpoint, len(endpoints)),
		tables:    make(map[string]Table, len(tables)),
	}
	for _, e := range endpoints {
		if e.Entity == "" || e.Operation == "" {
			return nil, fmt.Errorf("endpoint %q missing entity or operation", e.ID)
		}
		key := e.Key()
		if _, dup := c.endpoints[key]; dup {
			return nil, fmt.Errorf("duplicate endpoint %s", key)
		}
		c.endpoints[key] = e
		if e.ID != "" {
			c.byID[e.ID] = e
		}
	}
	for _, e := range endpoints {
		for _, dep := range e.Dependencies {
			if _, ok := c.byID[dep]; !ok {
				return nil, fmt.Errorf("endpoint %s depends on unknown id %q", e.Key(), dep)
			}
		}
	}
	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table with empty name")
		}
		c.tables[strings.ToLower(t.Name)] = t
	}
	return c, nil
}

// catalogFile is the YAML layout of each catalog file.
type catalogFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
	Tables    []Table    `yaml:"tables"`
}

// Load reads api_catalog.yaml and schema_catalog.yaml from dir.
func Load(dir string) (*Catalog, error) {
	var endpoints []Endpoint
	var tables []Table
	for _, name := range []string{"api_catalog.yaml", "schema_catalog.yaml"} {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		endpoints = append(endpoints, file.Endpoints...)
		tables = append(tables, file.Tables...)
	}
	if len(endpoints) == 0 && len(tables) == 0 {
		return nil, fmt.Errorf("no catalog definitions found in %s", dir)
	}
	return New(endpoints, tables)
}

// Endpoint looks up an endpoint by (entity, operation).
func (c *Catalog) Endpoint(entity, operation string) (Endpoint, bool) {
	e, ok := c.endpoints[strings.ToLower(entity)+"/"+strings.ToLower(operation)]
	return e, ok
}

// EndpointByID looks up an endpoint by its stable id.
func (c *Catalog) EndpointByID(id string) (Endpoint, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// Table looks up a mirror table by name.
func (c *Catalog) Table(name string) (Table, bool) {
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// Endpoints returns all endpoints sorted by entity then operation.
func (c *Catalog) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Operation < out[j].Operation
	})
	return out
}

// Tables returns all tables sorted by name.
func (c *Catalog) Tables() []Table {
	out := make([]Table, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Narrowed is the pre-planner's minimal relevant subset of the catalog.
type Narrowed struct {
	Endpoints []Endpoint
	Tables    []Table
}

// Narrow resolves selected (entity, operation) pairs and table names into a
// narrowed view. Unknown references are returned so the caller can fail with
// catalog_miss.
func (c *Catalog) Narrow(pairs [][2]string, tableNames []string) (Narrowed, []string) {
	var n Narrowed
	var missing []string
	for _, p := range pairs {
		if e, ok := c.Endpoint(p[0], p[1]); ok {
			n.Endpoints = append(n.Endpoints, e)
		} else {
			missing = append(missing, p[0]+"/"+p[1])
		}
	}
	for _, name := range tableNames {
		if t, ok := c.Table(name); ok {
			n.Tables = append(n.Tables, t)
		} else {
			missing = append(missing, name)
		}
	}
	return n, missing
}

// Describe renders the narrowed catalog as prompt text for the planner.
func (n Narrowed) Describe() string {
	var b strings.Builder
	if len(n.Tables) > 0 {
		b.WriteString("SQL tables:\n")
		for _, t := range n.Tables {
			cols := make([]string, len(t.Columns))
			for i, col := range t.Columns {
				cols[i] = col.Name + " " + col.Type
			}
			fmt.Fprintf(&b, "- %s(%s)\n", t.Name, strings.Join(cols, ", "))
			for _, rel := range t.Relationships {
				fmt.Fprintf(&b, "  relationship: %s\n", rel)
			}
		}
	}
	if len(n.Endpoints) > 0 {
		b.WriteString("API endpoints:\n")
		for _, e := range n.Endpoints {
			fmt.Fprintf(&b, "- %s %s %s %s", e.Entity, e.Operation, e.Method, e.URLPattern)
			if len(e.Required) > 0 {
				fmt.Fprintf(&b, " required=%s", strings.Join(e.Required, ","))
			}
			if e.Notes != "" {
				fmt.Fprintf(&b, " (%s)", e.Notes)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
