package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// rawResult mirrors the JSON shape backends are instructed to emit.
type rawResult struct {
	RootCause      string        `json:"root_cause"`
	FixConfidence  float64       `json:"fix_confidence"`
	FixCode        string        `json:"fix_code"`
	FilePath       string        `json:"file_path"`
	LineNumber     int           `json:"line_number"`
	FunctionName   string        `json:"function_name"`
	TestCases      []rawTestCase `json:"test_cases"`
	MatchedPattern bool          `json:"matched_pattern"`
}

type rawTestCase struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Type string `json:"type"`
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(.+?)\\s*```")

// parseRawResult extracts the result JSON from a backend response. Backends
// are told not to wrap output in markdown, but they sometimes do anyway, so
// a fenced block or surrounding prose is tolerated.
func parseRawResult(text string) (rawResult, error) {
	candidate := text
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(candidate), &raw); err == nil {
		return raw, nil
	}

	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return rawResult{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(candidate[start:end+1]), &raw); err != nil {
		return rawResult{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return raw, nil
}

// testPlan flattens generated test cases into a readable plan.
func testPlan(cases []rawTestCase) string {
	if len(cases) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cases))
	for _, tc := range cases {
		if tc.Code == "" {
			continue
		}
		header := tc.Name
		if tc.Type != "" {
			header = fmt.Sprintf("%s (%s)", tc.Name, tc.Type)
		}
		parts = append(parts, fmt.Sprintf("# %s\n%s", header, tc.Code))
	}
	return strings.Join(parts, "\n\n")
}
