package mcpadmin

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// handleDocs renders a human-readable catalog of every server and tool as
// HTML. The page is regenerated per request; the manager snapshot is cheap
// and the endpoint is for operators, not machines.
func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(s.docsMarkdown()), &body); err != nil {
		s.writeError(w, fmt.Errorf("render docs: %w", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, docsPage, body.String())
}

func (s *Server) docsMarkdown() string {
	var b strings.Builder
	b.WriteString("# MCP Host\n\n")

	servers := s.manager.Servers()
	if len(servers) == 0 {
		b.WriteString("No servers configured.\n")
		return b.String()
	}

	b.WriteString("| Server | Status | PID | Tools | Command |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, srv := range servers {
		fmt.Fprintf(&b, "| %s | %s | %d | %d | `%s` |\n",
			srv.Config.ID, srv.Runtime.Status, srv.Runtime.PID,
			srv.Runtime.ToolCount, srv.Config.Command)
	}
	b.WriteString("\n")

	for _, srv := range servers {
		if name := srv.Config.DisplayName(); name != srv.Config.ID {
			fmt.Fprintf(&b, "## %s (`%s`)\n\n", name, srv.Config.ID)
		} else {
			fmt.Fprintf(&b, "## %s\n\n", srv.Config.ID)
		}
		if srv.Config.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", srv.Config.Description)
		}
		if srv.Runtime.ServerName != "" {
			fmt.Fprintf(&b, "Running `%s %s` (protocol identity).\n\n",
				srv.Runtime.ServerName, srv.Runtime.ServerVersion)
		}
		if srv.Runtime.LastError != "" {
			fmt.Fprintf(&b, "Last error: `%s`\n\n", srv.Runtime.LastError)
		}

		tools := s.manager.Tools(srv.Config.ID)
		if len(tools) == 0 {
			b.WriteString("No tools discovered.\n\n")
			continue
		}
		b.WriteString("| Tool | Category | Risk | Description |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, tool := range tools {
			fmt.Fprintf(&b, "| `%s` | %s | %s | %s |\n",
				tool.Name, tool.Category, tool.Risk, tableEscape(tool.Description))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func tableEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

const docsPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>MCP Host</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; color: #1f2328; }
table { border-collapse: collapse; width: 100%%; margin: 1rem 0; }
th, td { border: 1px solid #d1d9e0; padding: 0.4rem 0.7rem; text-align: left; }
th { background: #f6f8fa; }
code { background: #f6f8fa; padding: 0.1rem 0.3rem; border-radius: 4px; font-size: 0.9em; }
h1, h2 { border-bottom: 1px solid #d1d9e0; padding-bottom: 0.3rem; }
</style>
</head>
<body>
%s
</body>
</html>
`
