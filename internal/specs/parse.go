// File: internal/specs/parse.go
package specs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/polislabs/polis/internal/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	semverPattern    = regexp.MustCompile(`^\d+\.\d+\.\d+(?:[-+][\w.-]+)?$`)
	checklistItem    = regexp.MustCompile(`^\[\s*[xX]?\s*\]\s*(.+)$`)
	serviceLine      = regexp.MustCompile(`(?i)^-\s*([a-z0-9][a-z0-9-]*)\s*:\s*(\d+)`)
	metadataKVLine   = regexp.MustCompile(`^-\s*\*{0,2}(\w+)\*{0,2}\s*:\s*(.+?)\s*$`)
	dependsOnPrefix  = regexp.MustCompile(`(?i)^depends\s+on\s*:\s*(.+)$`)
	hookNames        = map[string]string{"beforeinit": "beforeInit", "afterinit": "afterInit", "onmetamorphosis": "onMetamorphosis"}
	validSpecStatus  = map[string]bool{"draft": true, "proposed": true, "approved": true, "executable": true}
	frontMatterFence = []byte("---")
)

// Interpreter parses, validates and compiles specification documents, and
// records every content change in the persistent registry and changelog.
type Interpreter struct {
	store    store.Store
	log      *zap.Logger
	baseDirs []string
	md       goldmark.Markdown
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]*ParsedSpec
}

// NewInterpreter builds an interpreter. Relative spec paths are resolved
// against baseDirs in order; the first existing file wins.
func NewInterpreter(s store.Store, baseDirs []string, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		store:    s,
		log:      logger.Named("specs"),
		baseDirs: baseDirs,
		md:       goldmark.New(),
		now:      time.Now,
		cache:    map[string]*ParsedSpec{},
	}
}

// Resolve maps a spec path to the absolute path of an existing file.
func (i *Interpreter) Resolve(path string) (string, error) {
	var candidates []string
	if filepath.IsAbs(path) {
		candidates = []string{path}
	} else {
		for _, dir := range i.baseDirs {
			candidates = append(candidates, filepath.Join(dir, path))
		}
		candidates = append(candidates, path)
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			abs, err := filepath.Abs(c)
			if err != nil {
				return "", err
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSpecNotFound, path)
}

// ParseSpec resolves, reads, parses and validates one document, records the
// content change in the registry and changelog, and caches the result by its
// resolved path. The returned spec is immutable; callers must not mutate it.
func (i *Interpreter) ParseSpec(ctx context.Context, path string) (*ParsedSpec, error) {
	abs, err := i.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("specs: reading %s: %w", abs, err)
	}
	spec, err := i.ParseBytes(abs, raw)
	if err != nil {
		return nil, err
	}
	if err := i.recordChange(ctx, abs, spec.Metadata.Version, raw); err != nil {
		return nil, err
	}
	i.mu.Lock()
	i.cache[abs] = spec
	i.mu.Unlock()
	return spec, nil
}

// Cached returns the last parse result for an already-resolved path, if any.
func (i *Interpreter) Cached(absPath string) (*ParsedSpec, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	spec, ok := i.cache[absPath]
	return spec, ok
}

// ParseBytes interprets raw document content without touching disk or the
// changelog. The path is recorded on the result as provenance only.
func (i *Interpreter) ParseBytes(path string, raw []byte) (*ParsedSpec, error) {
	meta, body := splitFrontMatter(raw)
	spec := &ParsedSpec{Metadata: meta, Path: path, Raw: string(raw)}
	i.walkBody(spec, body)
	spec.Dependencies = dedupe(spec.Dependencies)
	if spec.Metadata == (Metadata{}) {
		spec.Metadata = metadataFromSection(body)
	}
	if err := validate(spec); err != nil {
		i.log.Warn("Spec rejected", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return spec, nil
}

// splitFrontMatter peels a leading "---" ... "---" YAML block off the
// document. Malformed front matter is treated as absent rather than fatal;
// the metadata-section fallback still gets a chance.
func splitFrontMatter(raw []byte) (Metadata, []byte) {
	var meta Metadata
	trimmed := bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(trimmed, frontMatterFence) {
		return meta, raw
	}
	rest := trimmed[len(frontMatterFence):]
	if len(rest) == 0 || (rest[0] != '\n' && !bytes.HasPrefix(rest, []byte("\r\n"))) {
		return meta, raw
	}
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return meta, raw
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if idx := bytes.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = nil
	}
	if err := yaml.Unmarshal(block, &meta); err != nil {
		return Metadata{}, raw
	}
	return meta, body
}

// walkBody fills stories, criteria, interfaces, hooks and dependencies from
// the markdown AST. Fenced code blocks are classified by their info string,
// so hook bodies never leak into stories or criteria.
func (i *Interpreter) walkBody(spec *ParsedSpec, body []byte) {
	doc := i.md.Parser().Parse(text.NewReader(body))

	var section string
	var story *UserStory
	flushStory := func() {
		if story != nil {
			spec.UserStories = append(spec.UserStories, *story)
			story = nil
		}
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := string(node.Text(body))
			if node.Level <= 3 {
				flushStory()
			}
			switch {
			case node.Level == 3 && strings.HasPrefix(strings.ToLower(title), "user story"):
				name := title
				if _, after, ok := strings.Cut(title, ":"); ok {
					name = strings.TrimSpace(after)
				}
				story = &UserStory{Title: name}
			case node.Level == 2:
				section = strings.ToLower(strings.TrimSpace(title))
			}
		case *ast.FencedCodeBlock:
			spec.addCodeBlock(codeBlockOf(node, body))
		case *ast.List:
			items := listItems(node, body)
			switch {
			case story != nil:
				for _, item := range items {
					if m := checklistItem.FindStringSubmatch(item); m != nil {
						story.AcceptanceCriteria = append(story.AcceptanceCriteria, strings.TrimSpace(m[1]))
					}
				}
			case section == "acceptance criteria":
				for _, item := range items {
					if m := checklistItem.FindStringSubmatch(item); m != nil {
						spec.AcceptanceCriteria = append(spec.AcceptanceCriteria, strings.TrimSpace(m[1]))
					} else if item != "" {
						spec.AcceptanceCriteria = append(spec.AcceptanceCriteria, item)
					}
				}
			}
		case *ast.Paragraph:
			line := strings.TrimSpace(string(node.Text(body)))
			if m := dependsOnPrefix.FindStringSubmatch(line); m != nil {
				for _, dep := range strings.Split(m[1], ",") {
					if dep = strings.TrimSpace(dep); dep != "" {
						spec.Dependencies = append(spec.Dependencies, dep)
					}
				}
				continue
			}
			if story != nil && story.Description == "" {
				story.Description = line
			}
		}
	}
	flushStory()
}

func (spec *ParsedSpec) addCodeBlock(info, code string) {
	for _, field := range strings.Fields(strings.ToLower(info)) {
		if canonical, ok := hookNames[field]; ok {
			h := Hook{Name: canonical, Script: code}
			switch canonical {
			case "beforeInit":
				spec.Hooks.BeforeInit = h
			case "afterInit":
				spec.Hooks.AfterInit = h
			case "onMetamorphosis":
				spec.Hooks.OnMetamorphosis = h
			}
			return
		}
	}
	spec.Interfaces = append(spec.Interfaces, CodeBlock{Language: info, Code: code})
}

func codeBlockOf(node *ast.FencedCodeBlock, source []byte) (info, code string) {
	if node.Info != nil {
		info = strings.TrimSpace(string(node.Info.Segment.Value(source)))
	}
	var buf bytes.Buffer
	lines := node.Lines()
	for idx := 0; idx < lines.Len(); idx++ {
		seg := lines.At(idx)
		buf.Write(seg.Value(source))
	}
	return info, buf.String()
}

func listItems(list *ast.List, source []byte) []string {
	var items []string
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		items = append(items, strings.TrimSpace(string(item.Text(source))))
	}
	return items
}

func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// metadataFromSection is the fallback for documents without front matter: a
// "## Metadata" section with "- **Key**: value" lines.
func metadataFromSection(body []byte) Metadata {
	var meta Metadata
	inSection := false
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "## ") {
			inSection = strings.EqualFold(strings.TrimSpace(line[3:]), "metadata")
			continue
		}
		if !inSection {
			continue
		}
		m := metadataKVLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "version":
			meta.Version = m[2]
		case "type":
			meta.Type = m[2]
		case "status":
			meta.Status = strings.ToLower(m[2])
		case "author":
			meta.Author = m[2]
		}
	}
	return meta
}

func validate(spec *ParsedSpec) error {
	meta := spec.Metadata
	if meta.Version == "" || meta.Type == "" || meta.Status == "" {
		return fmt.Errorf("%w: metadata requires version, type and status", ErrSpecInvalid)
	}
	if !semverPattern.MatchString(meta.Version) {
		return fmt.Errorf("%w: version %q is not semver", ErrSpecInvalid, meta.Version)
	}
	if !validSpecStatus[meta.Status] {
		return fmt.Errorf("%w: unknown status %q", ErrSpecInvalid, meta.Status)
	}
	if meta.Status == "approved" || meta.Status == "executable" {
		criteria := len(spec.AcceptanceCriteria)
		for _, s := range spec.UserStories {
			criteria += len(s.AcceptanceCriteria)
		}
		if criteria == 0 {
			return fmt.Errorf("%w: status %q requires at least one acceptance criterion", ErrSpecInvalid, meta.Status)
		}
	}
	return nil
}

// ExtractServices pulls priced service declarations from raw markdown: lines
// of the form "- <id>: <price>" under a "## Services" heading. Trailing text
// after the price ("100 credits") is ignored. Fenced code regions are skipped
// so hook bodies cannot declare services. The parse is deliberately lenient;
// territory files need a service menu, not full spec metadata.
func ExtractServices(raw string) []ServiceDecl {
	var out []ServiceDecl
	inServices, inFence := false, false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			inServices = strings.EqualFold(strings.TrimSpace(trimmed[3:]), "services")
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !inServices {
			continue
		}
		m := serviceLine.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		price, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, ServiceDecl{ID: strings.ToLower(m[1]), Price: price})
	}
	return out
}
