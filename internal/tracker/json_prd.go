package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ralphtui/ralph-tui/internal/task"
)

// PRDFrontmatter carries the optional YAML block a PRD file may be
// preceded by, mirroring the ticket-frontmatter convention: epicId and
// projectName travel with the file instead of being passed on the
// command line every time.
type PRDFrontmatter struct {
	EpicID      string `yaml:"epicId"`
	ProjectName string `yaml:"projectName"`
}

// SplitFrontmatter separates a leading `---\n...\n---\n` YAML block
// from the JSON body that follows it. A file with no frontmatter block
// returns a zero PRDFrontmatter and the input unchanged.
func SplitFrontmatter(raw string) (PRDFrontmatter, string, error) {
	trimmed := strings.TrimLeft(raw, "\n")
	if !strings.HasPrefix(trimmed, "---\n") && !strings.HasPrefix(trimmed, "---\r\n") {
		return PRDFrontmatter{}, raw, nil
	}
	rest := trimmed[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return PRDFrontmatter{}, raw, fmt.Errorf("frontmatter block is not terminated with ---")
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimLeft(body, "\n")

	var fm PRDFrontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return PRDFrontmatter{}, raw, fmt.Errorf("frontmatter must be valid YAML: %w", err)
	}
	return fm, body, nil
}

// PRDStory is one entry of the PRD JSON shape's userStories array
// (spec §6): `{id, title, description?, acceptance?, dependencies?,
// priority?, labels?, model?, passes?}`.
type PRDStory struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Acceptance   string   `json:"acceptance,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Priority     int      `json:"priority,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	Model        string   `json:"model,omitempty"`
	Passes       bool     `json:"passes,omitempty"`
	// Status is an optional extension beyond the base PRD shape,
	// letting a story be parked in_progress or blocked between
	// scheduling passes instead of only open/closed via Passes.
	Status string `json:"status,omitempty"`
}

// PRD is the top-level JSON document a JSON-PRD tracker reads and
// rewrites in place.
type PRD struct {
	UserStories []PRDStory `json:"userStories"`
}

// LoadPRDFile reads path, splits any frontmatter, and parses the
// remaining JSON body.
func LoadPRDFile(path string) (PRD, PRDFrontmatter, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PRD{}, PRDFrontmatter{}, err
	}
	fm, body, err := SplitFrontmatter(string(raw))
	if err != nil {
		return PRD{}, PRDFrontmatter{}, err
	}
	var prd PRD
	if err := json.Unmarshal([]byte(body), &prd); err != nil {
		return PRD{}, PRDFrontmatter{}, fmt.Errorf("PRD body must be valid JSON: %w", err)
	}
	return prd, fm, nil
}

func writePRDFile(path string, frontmatterRaw string, prd PRD) error {
	body, err := json.MarshalIndent(prd, "", "  ")
	if err != nil {
		return err
	}
	var out strings.Builder
	if frontmatterRaw != "" {
		out.WriteString("---\n")
		out.WriteString(frontmatterRaw)
		if !strings.HasSuffix(frontmatterRaw, "\n") {
			out.WriteString("\n")
		}
		out.WriteString("---\n")
	}
	out.Write(body)
	out.WriteString("\n")
	return os.WriteFile(path, []byte(out.String()), 0o644)
}

// JSONPRDTracker implements contracts.TrackerAdapter over a single PRD
// file. Every mutating call re-reads and rewrites the file so
// concurrent workers in different worktrees each see their own copy
// (Worktree Manager rebases the file per-worktree, per spec §4.3).
type JSONPRDTracker struct {
	path            string
	frontmatterRaw  string
	mu              sync.Mutex
}

func NewJSONPRDTracker(path string) (*JSONPRDTracker, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	_, body, err := SplitFrontmatter(string(raw))
	if err != nil {
		return nil, err
	}
	frontmatterRaw := ""
	if len(body) != len(raw) {
		frontmatterRaw = extractFrontmatterRaw(string(raw))
	}
	return &JSONPRDTracker{path: path, frontmatterRaw: frontmatterRaw}, nil
}

func extractFrontmatterRaw(raw string) string {
	trimmed := strings.TrimLeft(raw, "\n")
	rest := strings.TrimPrefix(strings.TrimPrefix(trimmed, "---\r\n"), "---\n")
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return ""
	}
	return rest[:end]
}

func (j *JSONPRDTracker) ListOpenTasks(_ context.Context, _ string) ([]task.Task, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prd, _, err := LoadPRDFile(j.path)
	if err != nil {
		return nil, err
	}

	var tasks []task.Task
	for _, story := range prd.UserStories {
		if story.Passes {
			continue
		}
		t := storyToTask(story)
		if !t.Status.IsOpenForWork() {
			continue
		}
		tasks = append(tasks, t)
	}
	ids := make([]string, len(tasks))
	byID := make(map[string]task.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	ordered := task.OrderDottedIDs(ids)
	result := make([]task.Task, len(ordered))
	for i, id := range ordered {
		result[i] = byID[id]
	}
	return result, nil
}

func storyToTask(story PRDStory) task.Task {
	status := task.Status(story.Status)
	if status == "" {
		if story.Passes {
			status = task.StatusClosed
		} else {
			status = task.StatusOpen
		}
	}
	return task.Task{
		ID:                 story.ID,
		Title:              story.Title,
		Description:        story.Description,
		AcceptanceCriteria: story.Acceptance,
		Status:             status,
		Priority:           story.Priority,
		Dependencies:       story.Dependencies,
		Labels:             story.Labels,
		Model:              story.Model,
	}
}

func (j *JSONPRDTracker) GetTask(_ context.Context, id string) (task.Task, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	prd, _, err := LoadPRDFile(j.path)
	if err != nil {
		return task.Task{}, false, err
	}
	for _, story := range prd.UserStories {
		if story.ID == id {
			return storyToTask(story), true, nil
		}
	}
	return task.Task{}, false, nil
}

func (j *JSONPRDTracker) CloseTask(_ context.Context, id string, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prd, _, err := LoadPRDFile(j.path)
	if err != nil {
		return err
	}
	found := false
	for i := range prd.UserStories {
		if prd.UserStories[i].ID == id {
			prd.UserStories[i].Passes = true
			prd.UserStories[i].Status = string(task.StatusClosed)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("json prd: unknown story id %q", id)
	}
	_ = reason // JSON PRD has no close-reason field; recorded only in the iteration log.
	return writePRDFile(j.path, j.frontmatterRaw, prd)
}

func (j *JSONPRDTracker) UpdateTaskStatus(_ context.Context, id string, status task.Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prd, _, err := LoadPRDFile(j.path)
	if err != nil {
		return err
	}
	found := false
	for i := range prd.UserStories {
		if prd.UserStories[i].ID == id {
			prd.UserStories[i].Status = string(status)
			prd.UserStories[i].Passes = status == task.StatusClosed
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("json prd: unknown story id %q", id)
	}
	return writePRDFile(j.path, j.frontmatterRaw, prd)
}
