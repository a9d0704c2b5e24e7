package plan

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

func TestExtract(t *testing.T) {
	want := Plan{
		{ID: "task_1", Name: "Add logging", Desc: "Add structured logs"},
		{ID: "task_2", Name: "Fix bug", Desc: "Fix the off-by-one"},
	}
	array := `[{"id":"task_1","name":"Add logging","desc":"Add structured logs"},{"id":"task_2","name":"Fix bug","desc":"Fix the off-by-one"}]`

	tests := []struct {
		name string
		text string
	}{
		{"fenced json block", "Here is the plan:\n```json\n" + array + "\n```\nGood luck [really]."},
		{"fenced block without language", "```\n" + array + "\n```"},
		{"bare array in prose", "Sure! " + array + " Let me know."},
		{"pretty printed", "```json\n[\n  {\n    \"id\": \"task_1\", \"name\": \"Add logging\", \"desc\": \"Add structured logs\"\n  },\n  {\"id\": \"task_2\", \"name\": \"Fix bug\", \"desc\": \"Fix the off-by-one\"}\n]\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.text)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Extract() = %+v, want %+v", got, want)
			}
		})
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantNoArray  bool
		wantContains []string
	}{
		{
			name:         "no brackets",
			text:         "I could not come up with a plan.",
			wantNoArray:  true,
			wantContains: []string{"No JSON array found in content"},
		},
		{
			name:         "closing bracket before opening",
			text:         "] nothing [",
			wantNoArray:  true,
			wantContains: []string{"No JSON array found in content"},
		},
		{
			name:         "malformed json",
			text:         `[{"id": "task_1", "name": "x", "desc": }]`,
			wantContains: []string{"JSON parse error"},
		},
		{
			name:         "misnamed field",
			text:         "```json\n[{\"id\":\"task_1\",\"title\":\"Add logging\",\"desc\":\"d\"}]\n```",
			wantContains: []string{"Schema validation failed", "/0", "name"},
		},
		{
			name:         "empty string field",
			text:         `[{"id":"task_1","name":"","desc":"d"}]`,
			wantContains: []string{"Schema validation failed", "/0/name"},
		},
		{
			name:         "wrong type",
			text:         `[{"id":1,"name":"n","desc":"d"}]`,
			wantContains: []string{"Schema validation failed", "/0/id"},
		},
		{
			name:         "empty array",
			text:         `[]`,
			wantContains: []string{"Schema validation failed"},
		},
		{
			name:         "id unsafe for branch names",
			text:         `[{"id":"task 1","name":"n","desc":"d"}]`,
			wantContains: []string{"Schema validation failed", "/0/id"},
		},
		{
			name:         "duplicate ids",
			text:         `[{"id":"a","name":"n","desc":"d"},{"id":"a","name":"m","desc":"e"}]`,
			wantContains: []string{"unique", `"a"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.text)
			if err == nil {
				t.Fatal("Extract() should fail")
			}
			if got := errors.Is(err, errors.ErrNoPlanArray); got != tt.wantNoArray {
				t.Errorf("Is(ErrNoPlanArray) = %v, want %v", got, tt.wantNoArray)
			}
			if !tt.wantNoArray && !errors.Is(err, errors.ErrPlanInvalid) {
				t.Errorf("error should wrap ErrPlanInvalid: %v", err)
			}
			for _, s := range tt.wantContains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q should contain %q", err.Error(), s)
				}
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vibe_plan.json")
	p := Plan{{ID: "task_1", Name: "n", Desc: "d"}}

	if err := Save(path, p); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("Load() = %+v, want %+v", got, p)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "\n  {\n") {
		t.Errorf("plan file should be indented:\n%s", data)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vibe_plan.json")
	if err := os.WriteFile(path, []byte(`[{"id":"x"}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, errors.ErrPlanInvalid) {
		t.Errorf("Load() error = %v, want ErrPlanInvalid", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestPlan_IDs(t *testing.T) {
	p := Plan{{ID: "a"}, {ID: "b"}}
	if got := p.IDs(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("IDs() = %v", got)
	}
}
