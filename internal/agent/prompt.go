package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nikhilbarthwal/triagent/pkg/models"
)

// buildPrompt renders one analysis request as a self-contained prompt. All
// gathered evidence and retrieved patterns are inlined so the backend needs
// no tool access of its own.
func buildPrompt(req models.FixRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Perform root cause analysis for production issue %s.\n\n", req.Issue.ID)
	fmt.Fprintf(&b, "## Issue\n")
	fmt.Fprintf(&b, "Title: %s\n", req.Issue.Title)
	fmt.Fprintf(&b, "Error type: %s\n", req.Issue.ErrorType)
	if req.Issue.Culprit != "" {
		fmt.Fprintf(&b, "Culprit: %s\n", req.Issue.Culprit)
	}
	fmt.Fprintf(&b, "Occurrences: %d, affected users: %d, last seen: %s\n",
		req.Issue.Count, req.Issue.UserCount, req.Issue.LastSeen.Format("2006-01-02T15:04:05Z07:00"))

	if len(req.Group) > 0 {
		fmt.Fprintf(&b, "\n%d related issues share this fingerprint:\n", len(req.Group))
		for _, member := range req.Group {
			fmt.Fprintf(&b, "- %s: %s (%d occurrences)\n", member.ID, member.Title, member.Count)
		}
	}

	b.WriteString("\n## Evidence\n")
	if raw, err := json.MarshalIndent(req.Evidence, "", "  "); err == nil {
		b.Write(raw)
		b.WriteString("\n")
	}

	if len(req.Patterns) > 0 {
		b.WriteString("\n## Known Fix Patterns\n")
		b.WriteString("Fixes that worked (or failed) for similar errors, best match first:\n")
		for _, m := range req.Patterns {
			fmt.Fprintf(&b, "- [%s, similarity %.2f] %s: %s\n",
				m.Pattern.Kind, m.Similarity, m.Pattern.Signature.ErrorType, m.Pattern.FixSummary)
		}
	}

	b.WriteString(`
## Instructions
1. Determine the root cause from the issue and evidence above.
2. Estimate fix confidence in [0.0, 1.0]:
   - 0.8+ if the error is clear and the fix is obvious
   - 0.5-0.8 if the error is clear but the fix has some uncertainty
   - below 0.5 if the error is unclear or complex
3. If fix_confidence >= 0.5, generate a MINIMAL fix. Only fix the specific
   function, never the entire file.
4. Generate test cases: a smoke test, a regression test that fails before the
   fix and passes after, and an edge case test.

## Output Format
Return ONLY a JSON object, no markdown formatting:

{
  "root_cause": "Accessing dict key without checking if it exists",
  "fix_confidence": 0.85,
  "fix_code": "def user_email(user):\n    return user.get('email', None)",
  "file_path": "api/routes/users.py",
  "line_number": 42,
  "function_name": "user_email",
  "test_cases": [
    {"name": "test_user_email_missing_key", "code": "...", "type": "regression"}
  ],
  "matched_pattern": false
}
`)

	return b.String()
}
