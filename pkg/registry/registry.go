// Package registry carries a built-in catalog of well-known MCP server
// templates. A template is a launch spec with {{placeholder}} parameters in
// its args and env; resolving one against caller-supplied values yields a
// ready-to-register mcphost.ServerConfig. All placeholder substitution
// happens here, so the manager only ever sees literal commands.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrMissingParameter = errors.New("missing required parameter")
)

// Parameter declares one placeholder a template accepts. Required parameters
// must be supplied at resolve time; optional ones fall back to Default.
type Parameter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}

// Template is a launch spec for a known MCP server with unresolved
// parameters.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Parameters  []Parameter       `json:"parameters,omitempty"`
}

// builtin is the catalog. Commands mirror how these servers are published:
// the TypeScript ones run under npx, the Python ones under uvx.
var builtin = []Template{
	{
		ID:          "everything",
		Name:        "Everything",
		Description: "Reference server exercising every MCP feature",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-everything"},
	},
	{
		ID:          "fetch",
		Name:        "Fetch",
		Description: "Web content fetching and conversion",
		Command:     "uvx",
		Args:        []string{"mcp-server-fetch"},
	},
	{
		ID:          "filesystem",
		Name:        "Filesystem",
		Description: "File operations rooted at an allowed directory",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-filesystem", "{{root}}"},
		Parameters: []Parameter{
			{Name: "root", Description: "Directory the server may access", Required: true},
		},
	},
	{
		ID:          "github",
		Name:        "GitHub",
		Description: "GitHub repositories, issues and pull requests",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-github"},
		Env:         map[string]string{"GITHUB_PERSONAL_ACCESS_TOKEN": "{{token}}"},
		Parameters: []Parameter{
			{Name: "token", Description: "GitHub personal access token", Required: true},
		},
	},
	{
		ID:          "memory",
		Name:        "Memory",
		Description: "Knowledge-graph memory shared across sessions",
		Command:     "npx",
		Args:        []string{"-y", "@modelcontextprotocol/server-memory"},
	},
	{
		ID:          "sqlite",
		Name:        "SQLite",
		Description: "Query and inspect a local SQLite database",
		Command:     "uvx",
		Args:        []string{"mcp-server-sqlite", "--db-path", "{{db_path}}"},
		Parameters: []Parameter{
			{Name: "db_path", Description: "Path to the database file", Default: "mcp.db"},
		},
	},
}

// Templates returns the catalog sorted by id. The result is a copy; callers
// may not mutate the catalog.
func Templates() []Template {
	out := make([]Template, len(builtin))
	for i, t := range builtin {
		out[i] = t.clone()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the template with the given id.
func Find(id string) (Template, error) {
	for _, t := range builtin {
		if t.ID == id {
			return t.clone(), nil
		}
	}
	return Template{}, fmt.Errorf("registry: %q: %w", id, ErrTemplateNotFound)
}

func (t Template) clone() Template {
	out := t
	out.Args = append([]string(nil), t.Args...)
	if t.Env != nil {
		out.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			out.Env[k] = v
		}
	}
	out.Parameters = append([]Parameter(nil), t.Parameters...)
	return out
}

// Resolve substitutes the template's parameters with values and returns the
// finished config under the given server id. Every required parameter must
// appear in values; optional parameters fall back to their defaults.
func (t Template) Resolve(serverID string, values map[string]string) (mcphost.ServerConfig, error) {
	resolved := make(map[string]string, len(t.Parameters))
	for _, p := range t.Parameters {
		v, ok := values[p.Name]
		if !ok || v == "" {
			if p.Required {
				return mcphost.ServerConfig{}, fmt.Errorf("registry: template %q: %w: %s", t.ID, ErrMissingParameter, p.Name)
			}
			v = p.Default
		}
		resolved[p.Name] = v
	}

	sub := func(s string) (string, error) {
		for name, v := range resolved {
			s = strings.ReplaceAll(s, "{{"+name+"}}", v)
		}
		if i := strings.Index(s, "{{"); i >= 0 {
			return "", fmt.Errorf("registry: template %q: unresolved placeholder in %q", t.ID, s)
		}
		return s, nil
	}

	cfg := mcphost.ServerConfig{
		ID:          serverID,
		Name:        t.Name,
		Description: t.Description,
		Command:     t.Command,
		Args:        make([]string, len(t.Args)),
	}
	var err error
	for i, arg := range t.Args {
		if cfg.Args[i], err = sub(arg); err != nil {
			return mcphost.ServerConfig{}, err
		}
	}
	if len(t.Env) > 0 {
		cfg.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			if cfg.Env[k], err = sub(v); err != nil {
				return mcphost.ServerConfig{}, err
			}
		}
	}
	return cfg, nil
}
