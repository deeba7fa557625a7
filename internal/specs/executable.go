// File: internal/specs/executable.go
package specs

import (
	"fmt"
	"regexp"
	"strings"
)

var slugify = regexp.MustCompile(`[^a-z0-9]+`)

// ToExecutable compiles a parsed spec into tasks, validators and hooks. Any
// parsed spec compiles regardless of status; drafts simply yield fewer or no
// tasks. The result is rebuilt on every call and never persisted; the
// markdown stays the single source of truth.
func (i *Interpreter) ToExecutable(spec *ParsedSpec) *ExecutableConfig {
	cfg := &ExecutableConfig{
		Config: GeneratedConfig{
			Type:         spec.Metadata.Type,
			Dependencies: spec.Dependencies,
		},
		Hooks: spec.Hooks,
	}
	for idx, story := range spec.UserStories {
		cfg.Config.Stories = append(cfg.Config.Stories, story.Title)
		cfg.Tasks = append(cfg.Tasks, TaskDef{
			ID:               fmt.Sprintf("task-%03d-%s", idx+1, taskSlug(story.Title)),
			Type:             "implementation",
			Description:      story.Description,
			Validation:       story.AcceptanceCriteria,
			EstimatedCredits: defaultTaskCredits,
			Dependencies:     spec.Dependencies,
		})
	}
	for _, rule := range spec.AcceptanceCriteria {
		cfg.Validators = append(cfg.Validators, Validator{Rule: rule})
	}
	return cfg
}

func taskSlug(title string) string {
	slug := slugify.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "story"
	}
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	return slug
}
