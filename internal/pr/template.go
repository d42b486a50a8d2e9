package pr

import (
	"bytes"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/gobwas/glob"
)

// DefaultBodyTemplate renders a pull request body when none is configured.
const DefaultBodyTemplate = `{{.Summary}}
{{if .ChangedFiles}}
## Changed files
{{range .ChangedFiles}}- ` + "`{{.}}`" + `
{{end}}{{end}}{{if .LinkedIssue}}
Closes {{.LinkedIssue}}
{{end}}
---
_Opened by warren session {{.SessionID}} from branch ` + "`{{.Branch}}`" + `._
`

// TemplateData contains all data available to PR templates
type TemplateData struct {
	// Summary is the generated or final-answer summary of the change
	Summary string
	// Task is the message that started the turn
	Task string
	// Branch is the branch name
	Branch string
	// ChangedFiles is a list of modified file paths
	ChangedFiles []string
	// LinkedIssue is any detected issue reference (e.g., "#42")
	LinkedIssue string
	// SessionID is the warren session identifier
	SessionID string
}

// RenderTemplate renders a PR body template with the given data. An empty
// template renders DefaultBodyTemplate.
func RenderTemplate(tmplStr string, data TemplateData) (string, error) {
	if strings.TrimSpace(tmplStr) == "" {
		tmplStr = DefaultBodyTemplate
	}
	tmpl, err := template.New("pr-template").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

var issuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:fixes|fix|closes|close|resolves|resolve)\s*#(\d+)`),
	regexp.MustCompile(`#(\d+)`),
}

// ExtractIssueReference extracts the first issue reference from text.
// Supports formats: #123, fixes #123, closes #123, resolves #123
func ExtractIssueReference(text string) string {
	for _, re := range issuePatterns {
		if matches := re.FindStringSubmatch(text); len(matches) >= 2 {
			return "#" + matches[1]
		}
	}
	return ""
}

// ResolveReviewers determines reviewers based on changed files and config.
// Patterns use '/' as separator, so "*" stays within one directory and "**"
// crosses directories. The result is sorted.
func ResolveReviewers(changedFiles []string, defaultReviewers []string, byPath map[string][]string) []string {
	reviewerSet := make(map[string]bool)

	for _, r := range defaultReviewers {
		if r = normalizeReviewer(r); r != "" {
			reviewerSet[r] = true
		}
	}

	for pattern, reviewers := range byPath {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}

		for _, file := range changedFiles {
			if g.Match(file) {
				for _, r := range reviewers {
					if r = normalizeReviewer(r); r != "" {
						reviewerSet[r] = true
					}
				}
				break
			}
		}
	}

	result := make([]string, 0, len(reviewerSet))
	for r := range reviewerSet {
		result = append(result, r)
	}
	sort.Strings(result)
	return result
}

// normalizeReviewer removes @ prefix from reviewer handles
func normalizeReviewer(reviewer string) string {
	return strings.TrimPrefix(strings.TrimSpace(reviewer), "@")
}

// FormatClosesClause formats issue references for PR body
func FormatClosesClause(issues []string) string {
	if len(issues) == 0 {
		return ""
	}

	var clauses []string
	for _, issue := range issues {
		if !strings.HasPrefix(issue, "#") {
			issue = "#" + issue
		}
		clauses = append(clauses, "Closes "+issue)
	}

	return strings.Join(clauses, "\n")
}
