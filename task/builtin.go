package task

// BuiltinTemplates returns fresh copies of the templates seeded into every store.
func BuiltinTemplates() []*Template {
	return []*Template{
		{
			ID:          "feature_dev",
			Name:        "Feature Development",
			Description: "Design, build, test and document a new feature.",
			BaseTask: Def{
				Title:       "Implement ${featureName}",
				Description: "Deliver ${featureName} in the ${component} component.",
				Priority:    PriorityMedium,
				Tags:        []string{"feature"},
			},
			Parameters: []Param{
				{Name: "featureName", Description: "Short name of the feature", Required: true},
				{Name: "component", Description: "Component the feature lives in", Default: "core"},
			},
			SubTasks: []Def{
				{Title: "Design ${featureName}", Description: "Outline the approach and interfaces for ${featureName}.", Complexity: 3},
				{Title: "Implement ${featureName} in ${component}", Description: "Write the production code for ${featureName}.", Complexity: 5},
				{Title: "Write tests for ${featureName}", Description: "Cover the new behaviour with tests.", Complexity: 3},
				{Title: "Document ${featureName}", Description: "Update user-facing documentation.", Complexity: 2},
			},
			DefaultFilePatterns: []string{"src/**", "tests/**"},
			BuiltIn:             true,
		},
		{
			ID:          "bugfix",
			Name:        "Bug Fix",
			Description: "Reproduce, diagnose, fix and verify a defect.",
			BaseTask: Def{
				Title:       "Fix: ${bugDescription}",
				Description: "Resolve the reported defect: ${bugDescription}",
				Priority:    PriorityHigh,
				Tags:        []string{"bug"},
			},
			Parameters: []Param{
				{Name: "bugDescription", Description: "What goes wrong", Required: true},
			},
			SubTasks: []Def{
				{Title: "Reproduce the bug", Description: "Find reliable steps that trigger: ${bugDescription}", Priority: PriorityHigh},
				{Title: "Identify root cause", Priority: PriorityHigh},
				{Title: "Implement fix", Priority: PriorityHigh},
				{Title: "Verify fix works", Description: "Confirm the reproduction no longer fails and add a regression test.", Priority: PriorityHigh},
			},
			BuiltIn: true,
		},
		{
			ID:          "research",
			Name:        "Research",
			Description: "Investigate a topic and report conclusions.",
			BaseTask: Def{
				Title:       "Research ${topic}",
				Description: "Investigate ${topic} and write up the findings.",
				Priority:    PriorityMedium,
				Tags:        []string{"research"},
			},
			Parameters: []Param{
				{Name: "topic", Description: "Subject to research", Required: true},
			},
			SubTasks: []Def{
				{Title: "Gather sources on ${topic}"},
				{Title: "Analyze findings"},
				{Title: "Summarize conclusions"},
			},
			BuiltIn: true,
		},
	}
}
