package tracker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ralphtui/ralph-tui/internal/task"
)

func writeTestPRD(t *testing.T, dir string, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "prd.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write prd: %v", err)
	}
	return path
}

func TestSplitFrontmatterExtractsEpicIDAndBody(t *testing.T) {
	raw := "---\nepicId: EPIC-9\nprojectName: demo\n---\n{\"userStories\":[]}"
	fm, body, err := SplitFrontmatter(raw)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if fm.EpicID != "EPIC-9" || fm.ProjectName != "demo" {
		t.Fatalf("unexpected frontmatter: %+v", fm)
	}
	var prd PRD
	if err := json.Unmarshal([]byte(body), &prd); err != nil {
		t.Fatalf("body is not valid JSON: %v, body=%q", err, body)
	}
}

func TestSplitFrontmatterPassesThroughFileWithoutBlock(t *testing.T) {
	raw := `{"userStories":[]}`
	fm, body, err := SplitFrontmatter(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm != (PRDFrontmatter{}) {
		t.Fatalf("expected zero frontmatter, got %+v", fm)
	}
	if body != raw {
		t.Fatalf("expected body unchanged, got %q", body)
	}
}

func TestJSONPRDTrackerListOpenTasksSkipsPassedStories(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPRD(t, dir, `{"userStories":[
		{"id":"TEST-001","title":"first","priority":1},
		{"id":"TEST-002","title":"second","priority":2,"passes":true}
	]}`)

	tracker, err := NewJSONPRDTracker(path)
	if err != nil {
		t.Fatalf("build tracker: %v", err)
	}

	tasks, err := tracker.ListOpenTasks(context.Background(), "")
	if err != nil {
		t.Fatalf("list open tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "TEST-001" {
		t.Fatalf("unexpected open tasks: %#v", tasks)
	}
}

func TestJSONPRDTrackerCloseTaskFlipsPasses(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPRD(t, dir, `{"userStories":[{"id":"TEST-001","title":"first"}]}`)

	tracker, err := NewJSONPRDTracker(path)
	if err != nil {
		t.Fatalf("build tracker: %v", err)
	}

	if err := tracker.CloseTask(context.Background(), "TEST-001", "done"); err != nil {
		t.Fatalf("close task: %v", err)
	}

	prd, _, err := LoadPRDFile(path)
	if err != nil {
		t.Fatalf("reload prd: %v", err)
	}
	if !prd.UserStories[0].Passes {
		t.Fatalf("expected passes=true after close")
	}
}

func TestJSONPRDTrackerCloseTaskUnknownIDFails(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPRD(t, dir, `{"userStories":[{"id":"TEST-001","title":"first"}]}`)
	tracker, err := NewJSONPRDTracker(path)
	if err != nil {
		t.Fatalf("build tracker: %v", err)
	}
	if err := tracker.CloseTask(context.Background(), "TEST-404", "done"); err == nil {
		t.Fatalf("expected error for unknown story id")
	}
}

func TestJSONPRDTrackerPreservesFrontmatterOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPRD(t, dir, "---\nepicId: EPIC-1\n---\n{\"userStories\":[{\"id\":\"TEST-001\",\"title\":\"first\"}]}")

	tracker, err := NewJSONPRDTracker(path)
	if err != nil {
		t.Fatalf("build tracker: %v", err)
	}
	if err := tracker.CloseTask(context.Background(), "TEST-001", "done"); err != nil {
		t.Fatalf("close task: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	fm, _, err := SplitFrontmatter(string(raw))
	if err != nil {
		t.Fatalf("split failed after rewrite: %v", err)
	}
	if fm.EpicID != "EPIC-1" {
		t.Fatalf("expected frontmatter to survive rewrite, got %+v", fm)
	}
}

func TestJSONPRDTrackerUpdateTaskStatusToBlocked(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPRD(t, dir, `{"userStories":[{"id":"TEST-001","title":"first"}]}`)
	tracker, err := NewJSONPRDTracker(path)
	if err != nil {
		t.Fatalf("build tracker: %v", err)
	}

	if err := tracker.UpdateTaskStatus(context.Background(), "TEST-001", task.StatusBlocked); err != nil {
		t.Fatalf("update status: %v", err)
	}

	found, ok, err := tracker.GetTask(context.Background(), "TEST-001")
	if err != nil || !ok {
		t.Fatalf("get task failed: ok=%v err=%v", ok, err)
	}
	if found.Status != task.StatusBlocked {
		t.Fatalf("expected blocked status, got %v", found.Status)
	}
}
