package curation

import "strings"

type TaskType string

const (
	TaskNarrative    TaskType = "narrative"
	TaskDomainExpert TaskType = "domain-expert"
	TaskResearch     TaskType = "research"
	TaskTechnical    TaskType = "technical"
	TaskProcedural   TaskType = "procedural"
	TaskGeneral      TaskType = "general"
)

// TaskRule maps a set of instruction keywords to a task type. Rule
// tables are evaluated in order with first match winning.
type TaskRule struct {
	Label    TaskType
	Keywords []string
}

// Rules are evaluated in order and the first match wins. Narrative and
// domain-expert come first: their vocabulary is a subset of the broader
// categories below them, so a later position would never match.
var defaultRules = []TaskRule{
	{TaskNarrative, []string{"storytell", "narrative", "fiction", "creative writing", "screenwrit"}},
	{TaskDomainExpert, []string{"medical", "legal", "diagnosis", "compliance", "financial advis", "clinical", "regulatory"}},
	{TaskResearch, []string{"research", "literature", "academic", "study", "papers", "citation"}},
	{TaskTechnical, []string{"code", "programming", "software", "debug", "engineering", "api"}},
	{TaskProcedural, []string{"support", "helpdesk", "procedure", "workflow", "how to", "troubleshoot", "customer service"}},
}

type Classifier struct {
	rules []TaskRule
}

func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules}
}

// NewClassifierWithRules builds a classifier over a caller-supplied
// rule table, evaluated in the given order.
func NewClassifierWithRules(rules []TaskRule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify maps an agent's instruction text to a task type by a
// first-match keyword scan. Unmatched instructions fall back to
// general.
func (c *Classifier) Classify(instruction string) TaskType {
	text := strings.ToLower(instruction)

	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, keyword) {
				return rule.Label
			}
		}
	}

	return TaskGeneral
}
