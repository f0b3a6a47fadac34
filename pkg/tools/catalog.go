// Package tools defines the static tool catalog the LLM can call, the JSON
// schema validation for tool inputs, and the danger classifier that forces
// approval for destructive commands.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Category groups tools for the /api/agent/tools listing.
type Category string

const (
	CategoryFilesystem Category = "filesystem"
	CategorySystem     Category = "system"
	CategoryDocker     Category = "docker"
	CategoryWebServer  Category = "webserver"
	CategoryBackup     Category = "backup"
	CategoryGitHub     Category = "github"
)

// Definition describes one tool: its name, LLM-facing description, JSON
// schema for input validation, and routing metadata.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Category    Category

	// Dangerous marks a tool with intrinsically dangerous actions. The
	// dispatcher decides per action; read-only actions of a flagged tool
	// (docker logs, apt search) pass without approval.
	Dangerous bool
}

// Catalog is the static, ordered tool registry with compiled validators.
type Catalog struct {
	defs    []Definition
	byName  map[string]*Definition
	schemas map[string]*jsonschema.Schema
}

// NewCatalog builds the full catalog and compiles every input schema.
func NewCatalog() (*Catalog, error) {
	defs := make([]Definition, 0, 48)
	defs = append(defs, filesystemTools()...)
	defs = append(defs, systemTools()...)
	defs = append(defs, dockerTools()...)
	defs = append(defs, webServerTools()...)
	defs = append(defs, backupTools()...)
	defs = append(defs, githubTools()...)

	c := &Catalog{
		defs:    defs,
		byName:  make(map[string]*Definition, len(defs)),
		schemas: make(map[string]*jsonschema.Schema, len(defs)),
	}

	compiler := jsonschema.NewCompiler()
	for i := range c.defs {
		def := &c.defs[i]
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool name %q", def.Name)
		}
		c.byName[def.Name] = def

		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(def.InputSchema)))
		if err != nil {
			return nil, fmt.Errorf("tools: schema for %s is not valid JSON: %w", def.Name, err)
		}
		url := "tool://" + def.Name
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("tools: add schema for %s: %w", def.Name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %s: %w", def.Name, err)
		}
		c.schemas[def.Name] = schema
	}
	return c, nil
}

// Definitions returns the ordered tool list.
func (c *Catalog) Definitions() []Definition { return c.defs }

// Get resolves a tool by name.
func (c *Catalog) Get(name string) (*Definition, bool) {
	def, ok := c.byName[name]
	return def, ok
}

// Categories returns the distinct categories in catalog order.
func (c *Catalog) Categories() []Category {
	seen := make(map[Category]bool)
	var out []Category
	for _, def := range c.defs {
		if !seen[def.Category] {
			seen[def.Category] = true
			out = append(out, def.Category)
		}
	}
	return out
}

// Validate checks input against the tool's compiled schema. Returns an error
// describing the first violation; the dispatcher returns it to the LLM as a
// tool result so the model can self-correct.
func (c *Catalog) Validate(name string, input map[string]any) error {
	schema, ok := c.schemas[name]
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	// The validator operates on generically-decoded JSON. Round-trip the
	// input so typed values (json.Number etc.) normalize.
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("tools: input not serializable: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("tools: input not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid input for %s: %w", name, err)
	}
	return nil
}
