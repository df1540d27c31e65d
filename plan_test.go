package analyst

import "testing"

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		names []string
	}{
		{
			name:  "plain array",
			text:  `[{"name":"Explore","description":"look","type":"data_exploration"},{"name":"Chart","type":"visualization"}]`,
			names: []string{"Explore", "Chart"},
		},
		{
			name:  "fenced with prose",
			text:  "Here is the plan:\n```json\n[{\"name\":\"A\",\"type\":\"analysis\"}]\n```\nDone.",
			names: []string{"A"},
		},
		{
			name: "not json",
			text: "I cannot plan right now.",
		},
		{
			name: "empty array",
			text: "[]",
		},
		{
			name:  "blank names skipped",
			text:  `[{"name":"  "},{"name":"Real"}]`,
			names: []string{"Real"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePlan(tt.text)
			if len(got) != len(tt.names) {
				t.Fatalf("got %d tasks, want %d (%+v)", len(got), len(tt.names), got)
			}
			for i, name := range tt.names {
				if got[i].Name != name {
					t.Fatalf("task %d name = %q, want %q", i, got[i].Name, name)
				}
				if got[i].ID != i+1 {
					t.Fatalf("task %d id = %d, want %d", i, got[i].ID, i+1)
				}
				if got[i].Status != TaskPending {
					t.Fatalf("task %d status = %s", i, got[i].Status)
				}
			}
		})
	}
}

func TestParsePlanUnknownTypeDefaultsToAnalysis(t *testing.T) {
	got := parsePlan(`[{"name":"X","type":"weird"}]`)
	if len(got) != 1 || got[0].Type != TaskAnalysis {
		t.Fatalf("got %+v", got)
	}
}

func TestDefaultPlan(t *testing.T) {
	plan := defaultPlan("find trends")
	if len(plan) != 4 {
		t.Fatalf("default plan has %d tasks", len(plan))
	}
	if err := validateTasks(plan); err != nil {
		t.Fatal(err)
	}
	if plan[0].Type != TaskDataExploration || plan[len(plan)-1].Type != TaskReport {
		t.Fatalf("plan shape wrong: %+v", plan)
	}
}
