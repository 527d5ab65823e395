// Package configstore persists server launch configurations as a JSON
// document in the widely used {"mcpServers": {...}} shape, so config files
// written for other MCP hosts can be dropped in unchanged.
//
// A Store reads and writes one file. Saves are atomic: the document is
// written to a temp file in the same directory and renamed over the target,
// so a crash mid-write never leaves a truncated config behind.
package configstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vikashloomba/mcp-host-go/pkg/mcphost"
)

// Store is a file-backed collection of server configs.
type Store struct {
	path string
}

// New returns a store bound to path. The file need not exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string { return s.path }

// document is the on-disk shape. Server ids are the map keys.
type document struct {
	MCPServers map[string]serverEntry `json:"mcpServers"`
}

type serverEntry struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	AutoStart   bool              `json:"autoStart,omitempty"`
}

// Load reads every stored server config, sorted by id. A missing file is an
// empty store, not an error.
func (s *Store) Load() ([]mcphost.ServerConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []mcphost.ServerConfig{}, nil
		}
		return nil, fmt.Errorf("configstore: read %s: %w", s.path, err)
	}
	configs, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("configstore: %s: %w", s.path, err)
	}
	return configs, nil
}

// Save writes the configs as one document, replacing the file's previous
// contents. The parent directory is created when missing; the file itself is
// user-only since env entries routinely hold tokens.
func (s *Store) Save(configs []mcphost.ServerConfig) error {
	doc := document{MCPServers: make(map[string]serverEntry, len(configs))}
	for _, cfg := range configs {
		doc.MCPServers[cfg.ID] = serverEntry{
			Name:        cfg.Name,
			Description: cfg.Description,
			Command:     cfg.Command,
			Args:        cfg.Args,
			Env:         cfg.Env,
			Cwd:         cfg.WorkDir,
			AutoStart:   cfg.AutoStart,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("configstore: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".mcphost-*.json")
	if err != nil {
		return fmt.Errorf("configstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("configstore: write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("configstore: chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("configstore: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("configstore: rename to %s: %w", s.path, err)
	}
	return nil
}

// Parse decodes one mcpServers document into server configs, sorted by id.
// Entries without a command are rejected so a broken import fails loudly
// instead of registering unstartable servers.
func Parse(r io.Reader) ([]mcphost.ServerConfig, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	configs := make([]mcphost.ServerConfig, 0, len(doc.MCPServers))
	for id, entry := range doc.MCPServers {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("server with empty id")
		}
		if strings.TrimSpace(entry.Command) == "" {
			return nil, fmt.Errorf("server %q: command is required", id)
		}
		configs = append(configs, mcphost.ServerConfig{
			ID:          id,
			Name:        entry.Name,
			Description: entry.Description,
			Command:     entry.Command,
			Args:        entry.Args,
			Env:         entry.Env,
			WorkDir:     entry.Cwd,
			AutoStart:   entry.AutoStart,
		})
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs, nil
}
