package mcphost

import "strings"

// Tool categories assigned by CategoryOf.
const (
	CategoryFilesystem = "filesystem"
	CategoryWeb        = "web"
	CategoryDatabase   = "database"
	CategoryGeneral    = "general"
)

// Risk levels assigned by RiskOf. They are display and confirmation hints for
// callers; the manager itself never blocks a call based on risk.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryFilesystem, []string{"file", "dir", "folder", "path"}},
	{CategoryWeb, []string{"http", "url", "web", "fetch", "download"}},
	{CategoryDatabase, []string{"sql", "query", "db", "table"}},
}

var riskKeywords = []struct {
	risk     string
	keywords []string
}{
	{RiskHigh, []string{"delete", "remove", "exec"}},
	{RiskMedium, []string{"write", "create", "modify"}},
}

// CategoryOf buckets a tool by substrings of its name. Buckets are checked in
// a fixed order, so a name matching several gets the first; anything
// unmatched is general.
func CategoryOf(toolName string) string {
	name := strings.ToLower(toolName)
	for _, bucket := range categoryKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(name, kw) {
				return bucket.category
			}
		}
	}
	return CategoryGeneral
}

// RiskOf grades a tool by substrings of its name, most destructive keyword
// set first. Unmatched names are low risk.
func RiskOf(toolName string) string {
	name := strings.ToLower(toolName)
	for _, bucket := range riskKeywords {
		for _, kw := range bucket.keywords {
			if strings.Contains(name, kw) {
				return bucket.risk
			}
		}
	}
	return RiskLow
}
