// Package template evaluates user-supplied expressions against an
// execution context. Expressions are Go text/template bodies with a
// small function allowlist; they cannot reach process state, which is
// what makes custom_script nodes safe to run in-process.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/mailflow/mailflow/pkg/models"
)

// RenderWithContext renders the expression against the execution
// context's variables, node results and trigger data.
func RenderWithContext(input string, executionCtx *models.ExecutionContext) (any, error) {
	data := map[string]any{
		"variables":    executionCtx.Variables,
		"vars":         executionCtx.Variables,
		"node_results": executionCtx.NodeResults,
		"trigger_data": executionCtx.TriggerData,
		"execution": map[string]any{
			"id":          executionCtx.ExecutionID,
			"workflow_id": executionCtx.WorkflowID,
			"user_id":     executionCtx.UserID,
		},
	}

	return Render(input, data)
}

// Render parses and executes a template body, coercing the rendered
// string into JSON, number or boolean when it looks like one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("expr").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			"contains": func(s, substr string) bool {
				return strings.Contains(s, substr)
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult, nil
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// Truthy converts a rendered expression result to a boolean: booleans as
// themselves, numbers by non-zero, strings by non-empty after the usual
// boolean spellings.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}

		return v != "" && v != "<no value>"
	default:
		return true
	}
}
