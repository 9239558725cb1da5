package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestWorkflowAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "workflow.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var workflowGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "workflow" {
			workflowGroup = &spec.Groups[i]
			break
		}
	}
	if workflowGroup == nil {
		t.Fatal("workflow alert group missing")
	}

	expected := map[string]string{
		"WorkflowCascadeFailures":       "warning",
		"WorkflowHTTPErrorRate":         "critical",
		"WorkflowHTTPLatencyHigh":       "warning",
		"WorkflowIndentClosuresStalled": "info",
	}

	if len(workflowGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(workflowGroup.Rules))
	}

	for _, rule := range workflowGroup.Rules {
		severity, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if !strings.Contains(rule.Expr, "procuremesh_") {
			t.Fatalf("rule %s must reference application metrics, got %q", rule.Alert, rule.Expr)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
