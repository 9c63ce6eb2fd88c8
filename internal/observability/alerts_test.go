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

func TestCommissionAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "commission.yml")
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

	var commissionGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "commission" {
			commissionGroup = &spec.Groups[i]
			break
		}
	}
	if commissionGroup == nil {
		t.Fatal("commission alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
		heading  string
	}{
		"HighErrorRate":      {severity: "critical", runbook: "docs/runbook-ops-commission.md#high-error-rate", heading: "## High error rate"},
		"HighLatency":        {severity: "warning", runbook: "docs/runbook-ops-commission.md#high-latency", heading: "## High latency"},
		"ClosingJobFailures": {severity: "warning", runbook: "docs/runbook-ops-commission.md#closing-job-failures", heading: "## Closing job failures"},
	}

	runbook, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-ops-commission.md"))
	if err != nil {
		t.Fatalf("failed to read runbook: %v", err)
	}

	if len(commissionGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(commissionGroup.Rules))
	}

	for _, rule := range commissionGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if !strings.Contains(string(runbook), want.heading) {
			t.Fatalf("rule %s runbook section %q missing", rule.Alert, want.heading)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}
