package curation

import "testing"

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		instruction string
		want        TaskType
	}{
		{"You are a medical diagnosis assistant for clinicians", TaskDomainExpert},
		{"Help lawyers check regulatory compliance requirements", TaskDomainExpert},
		{"Summarize academic papers and track citations", TaskResearch},
		{"Debug Go code and review API designs", TaskTechnical},
		{"Walk customers through the refund workflow step by step", TaskProcedural},
		{"Write creative writing prompts and short fiction", TaskNarrative},
		{"Answer questions about our product", TaskGeneral},
		{"", TaskGeneral},
	}

	for _, tt := range tests {
		if got := c.Classify(tt.instruction); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.instruction, got, tt.want)
		}
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	c := NewClassifier()

	// "medical" (domain-expert) appears before "research" in the rule
	// order, so an instruction containing both classifies as
	// domain-expert.
	got := c.Classify("Support medical research literature reviews")
	if got != TaskDomainExpert {
		t.Errorf("Classify = %s, want %s", got, TaskDomainExpert)
	}
}

func TestClassifyWithCustomRules(t *testing.T) {
	c := NewClassifierWithRules([]TaskRule{
		{Label: TaskTechnical, Keywords: []string{"kubernetes"}},
	})

	if got := c.Classify("Manage kubernetes clusters for the platform team"); got != TaskTechnical {
		t.Errorf("Classify = %s, want %s", got, TaskTechnical)
	}
	// A custom table replaces the defaults entirely.
	if got := c.Classify("Assist with medical diagnosis"); got != TaskGeneral {
		t.Errorf("Classify = %s, want %s", got, TaskGeneral)
	}
}
