package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-host-go/pkg/configstore"
	"github.com/vikashloomba/mcp-host-go/pkg/registry"
)

var (
	flagTemplateParams []string
	flagTemplateStart  bool
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List and install bundled server templates",
	RunE:  runTemplatesList,
}

var templatesAddCmd = &cobra.Command{
	Use:   "add <template-id> <server-id>",
	Short: "Resolve a template into the store as a new server",
	Long: `add fills a template's placeholders from --param values and writes the
resulting server configuration to the store under the given server id.`,
	Args: cobra.ExactArgs(2),
	RunE: runTemplatesAdd,
}

func init() {
	templatesAddCmd.Flags().StringArrayVar(&flagTemplateParams, "param", nil, "template parameter as key=value (repeatable)")
	templatesAddCmd.Flags().BoolVar(&flagTemplateStart, "autostart", false, "launch the server whenever the daemon starts")
	templatesCmd.AddCommand(templatesAddCmd)
}

func runTemplatesList(cmd *cobra.Command, _ []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPARAMETERS\tDESCRIPTION")
	for _, t := range registry.Templates() {
		var params []string
		for _, p := range t.Parameters {
			if p.Required {
				params = append(params, p.Name+"*")
			} else {
				params = append(params, p.Name)
			}
		}
		list := strings.Join(params, ", ")
		if list == "" {
			list = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Name, list, t.Description)
	}
	return w.Flush()
}

func runTemplatesAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadDaemonConfig(flagConfig)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	templateID, serverID := args[0], args[1]

	values := make(map[string]string, len(flagTemplateParams))
	for _, raw := range flagTemplateParams {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --param %q: expected key=value", raw)
		}
		values[key] = value
	}

	tpl, err := registry.Find(templateID)
	if err != nil {
		return err
	}
	sc, err := tpl.Resolve(serverID, values)
	if err != nil {
		return err
	}
	sc.AutoStart = flagTemplateStart

	store := configstore.New(cfg.StorePath)
	existing, err := store.Load()
	if err != nil {
		return err
	}
	for _, prior := range existing {
		if prior.ID == serverID {
			return fmt.Errorf("server %q already exists in %s", serverID, store.Path())
		}
	}
	existing = append(existing, sc)
	if err := store.Save(existing); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "added server %q from template %q (%s %s)\n",
		serverID, tpl.ID, sc.Command, strings.Join(sc.Args, " "))
	return nil
}
