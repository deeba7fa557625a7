// File: internal/specs/specs.go

// Package specs interprets governing specification documents: structured
// markdown with key-value front matter that declares metadata, user stories,
// acceptance criteria, service menus and sandboxed lifecycle hooks. Parsed
// specifications are immutable; a content change produces a fresh parse and
// exactly one changelog entry.
package specs

import "errors"

var (
	// ErrSpecNotFound means no candidate path resolved to a readable file.
	ErrSpecNotFound = errors.New("specs: spec not found")
	// ErrSpecInvalid means the document failed metadata or criteria validation.
	// The failure is fatal for that document but must not block unrelated ones.
	ErrSpecInvalid = errors.New("specs: spec validation failed")
)

// Metadata is the front-matter block of a specification.
type Metadata struct {
	Version string `json:"version" yaml:"version"`
	Type    string `json:"type" yaml:"type"`
	Status  string `json:"status" yaml:"status"` // draft, proposed, approved, executable
	Author  string `json:"author,omitempty" yaml:"author,omitempty"`
}

// UserStory is one "### User Story" section with its checklist criteria.
type UserStory struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// CodeBlock is a fenced code region extracted from the document body.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Code     string `json:"code"`
}

// ServiceDecl is one priced service declared under a "## Services" section,
// in lines of the form "- <id>: <integer price>".
type ServiceDecl struct {
	ID    string `json:"id"`
	Price int64  `json:"price"`
}

// ParsedSpec is the immutable result of interpreting one document.
type ParsedSpec struct {
	Metadata           Metadata    `json:"metadata"`
	UserStories        []UserStory `json:"userStories"`
	AcceptanceCriteria []string    `json:"acceptanceCriteria"`
	Interfaces         []CodeBlock `json:"interfaces"`
	Hooks              HookSet     `json:"hooks"`
	Dependencies       []string    `json:"dependencies"`
	Path               string      `json:"path"`
	Raw                string      `json:"-"`
}

// TaskDef is one executable task compiled from a user story.
type TaskDef struct {
	ID               string   `json:"id"`
	Type             string   `json:"type"`
	Description      string   `json:"description"`
	Validation       []string `json:"validation"`
	EstimatedCredits int64    `json:"estimatedCredits"`
	Dependencies     []string `json:"dependencies,omitempty"`
}

// Validator wraps one global acceptance criterion.
type Validator struct {
	Rule string `json:"rule"`
}

// GeneratedConfig is the descriptive configuration derived from a spec.
type GeneratedConfig struct {
	Type         string   `json:"type"`
	Stories      []string `json:"stories"`
	Dependencies []string `json:"dependencies"`
}

// ExecutableConfig is the ephemeral compilation of a parsed spec. It is
// regenerated on every compile and never persisted.
type ExecutableConfig struct {
	Config     GeneratedConfig `json:"config"`
	Tasks      []TaskDef       `json:"tasks"`
	Validators []Validator     `json:"validators"`
	Hooks      HookSet         `json:"hooks"`
}

// defaultTaskCredits is the fixed estimated cost assigned to each story task.
const defaultTaskCredits int64 = 100
