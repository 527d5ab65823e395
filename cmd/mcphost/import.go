package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-host-go/pkg/configstore"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import server definitions from an mcpServers document",
	Long: `import reads a JSON document with an "mcpServers" object (the format used
by MCP desktop clients) from a file or stdin and merges the entries into the
local store. Entries with an id already in the store are replaced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(flagConfig)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	var src io.Reader
	var name string
	if len(args) == 0 || args[0] == "-" {
		src = cmd.InOrStdin()
		name = "stdin"
	} else {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
		name = args[0]
	}

	incoming, err := configstore.Parse(src)
	if err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}
	if len(incoming) == 0 {
		return fmt.Errorf("import %s: document defines no servers", name)
	}

	store := configstore.New(cfg.StorePath)
	existing, err := store.Load()
	if err != nil {
		return err
	}

	byID := make(map[string]int, len(existing))
	for i, sc := range existing {
		byID[sc.ID] = i
	}

	var added, updated int
	for _, sc := range incoming {
		if i, ok := byID[sc.ID]; ok {
			existing[i] = sc
			updated++
		} else {
			existing = append(existing, sc)
			added++
		}
	}

	if err := store.Save(existing); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d server(s) from %s: %d added, %d updated\n",
		len(incoming), name, added, updated)
	return nil
}
