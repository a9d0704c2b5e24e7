// Package prompt renders the text sent to the coding agent in each phase.
//
// Prompts are plain text conventions: the agent is told where to work,
// how to name its commits, and which structured result to write. The
// orchestrator relies on the commit marker and the JSON shapes named here,
// so changes to those must be mirrored in the parsers that read them.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// CommitMarker is the prefix every task commit message must carry.
func CommitMarker(taskName string) string {
	return "Agent: " + taskName
}

// InitialCommitMessage is the message requested for a task's first attempt.
func InitialCommitMessage(taskName string) string {
	return CommitMarker(taskName) + " - Initial implementation"
}

// FixCommitMessage is the message requested for heal attempt n (2-based,
// counting the initial attempt as 1).
func FixCommitMessage(taskName string, n int) string {
	return fmt.Sprintf("%s - Fix attempt %d", CommitMarker(taskName), n)
}

// BuildData feeds the first-attempt task prompt.
type BuildData struct {
	TaskName string
	TaskDesc string
	Worktree string
	Domain   string
	Index    string
}

// HealData feeds a heal attempt.
type HealData struct {
	TaskName       string
	TaskDesc       string
	PreviousCommit string
	Feedback       string
	Attempt        int
}

// ReviewData feeds the review gate.
type ReviewData struct {
	TaskID           string
	TaskName         string
	Domain           string
	Worktree         string
	Stat             string
	Diff             string
	FileSummary      string
	SuggestedTestCmd string
}

// MediatorData feeds the conflict mediator.
type MediatorData struct {
	Branch string
	Files  []string
	Diff   string
}

// ArchitectData feeds the planning call.
type ArchitectData struct {
	Domain            string
	Index             string
	Requirements      string
	MaxParallelAgents int
}

// ArchitectRetryData feeds a planning retry after an invalid plan.
type ArchitectRetryData struct {
	Error    string
	Original string
}

// LibrarianData feeds index generation.
type LibrarianData struct {
	Mode    string
	Domain  string
	Context string
}

// IntegrationData feeds the integration healer.
type IntegrationData struct {
	TestCommand string
	ErrorLog    string
}

// CTOData feeds the final architectural review.
type CTOData struct {
	Commits string
	Stat    string
}

var funcs = template.FuncMap{
	"marker":  CommitMarker,
	"initial": InitialCommitMessage,
	"fix":     FixCommitMessage,
	"join":    strings.Join,
	"orNone": func(s, fallback string) string {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	},
}

var (
	buildTmpl = template.Must(template.New("build").Funcs(funcs).Parse(`/sc:implement
[INDEX] {{orNone .Index "No index available"}}
[TASK] {{.TaskDesc}}
[WORKTREE] {{.Worktree}}
[DOMAIN] {{.Domain}}

[INSTRUCTIONS]
1. You are working in an isolated Git worktree at: {{.Worktree}}
2. FIRST, ensure .gitignore includes: node_modules/, venv/, __pycache__/, *.pyc, dist/, build/, .env
3. Use your native file editing tools to implement the task
4. Install dependencies if needed (npm install, pip install, etc.)
5. When complete, commit your changes: git add -A && git commit -m '{{initial .TaskName}}'
6. Use existing dependencies if available to save time
`))

	healTmpl = template.Must(template.New("heal").Funcs(funcs).Parse(`[TASK] {{.TaskDesc}}
[PREVIOUS COMMIT] {{orNone .PreviousCommit "none"}}
[REVIEW FEEDBACK]
{{orNone .Feedback "Review failed but no feedback was recorded"}}

[INSTRUCTION]
Fix the issues identified in the review. Then commit: git add -A && git commit -m '{{fix .TaskName .Attempt}}'
`))

	reviewTmpl = template.Must(template.New("review").Funcs(funcs).Parse(`/sc:analyze

[TASK REVIEW]
Task: {{.TaskName}} (ID: {{.TaskID}})
Domain: {{.Domain}}
Worktree: {{.Worktree}}

Changes Statistics:
{{orNone .Stat "No commits yet"}}
{{if .FileSummary}}
Files:
{{.FileSummary}}
{{end}}
Code Diff:
{{orNone .Diff "No diff available"}}

[INSTRUCTIONS]
1. Analyze the code changes for correctness, security, and style.
2. EXECUTE TESTS: Run the appropriate test command for this project (e.g., {{.SuggestedTestCmd}}).
   - If no tests exist, create a simple verification script and run it.
   - Ensure the tests pass.
3. If tests fail, try to fix the code and re-run tests (you have full shell access).
4. If you cannot fix it, report failure.

[OUTPUT REQUIREMENT]
When finished, write a JSON object to the output file with this structure:
{
  "status": "PASS" | "FAIL",
  "message": "Brief summary of review and test results",
  "testCommand": "The command you ran"
}
The test command will be run again independently; report the exact command.
`))

	mediatorTmpl = template.Must(template.New("mediator").Funcs(funcs).Parse(`
[ROLE] You are mediating a merge conflict.

[PHILOSOPHY]
- Good code has no special cases
- When in doubt, choose simplicity
- Both sides might be wrong - don't be afraid to write a third solution
- Never sacrifice correctness for convenience

[CONFLICT]
Branch: {{.Branch}}
Files: {{join .Files ", "}}

[DIFF WITH CONFLICT MARKERS]
{{.Diff}}

[TASK]
1. Resolve the conflicts in the files using your native file editing tools.
2. Verify that no conflict markers remain (search for <<<<<<<, =======, >>>>>>>).
3. Stage ALL resolved files: git add <files>
4. COMMIT the resolution: git commit --no-edit
5. Verify the commit succeeded: git log -1 --oneline

[OUTPUT REQUIREMENT]
When finished, write a JSON object to the output file:
{
  "status": "RESOLVED" | "FAILED",
  "message": "Brief summary of resolution",
  "commitHash": "Hash of the resolution commit (at least 8 characters)"
}
`))

	architectTmpl = template.Must(template.New("architect").Funcs(funcs).Parse(`/sc:workflow

Domain: {{.Domain}}

Project Index:
{{orNone .Index "No index available"}}

Requirements:
{{orNone .Requirements "Optimize existing codebase based on index."}}

[CRITICAL CONSTRAINTS]
- Max {{.MaxParallelAgents}} parallel agents
- Tasks MUST modify DIFFERENT files (no race conditions)
- Task ids may only contain letters, digits, '_' and '-'
- Output valid JSON array with fields: id, name, desc

[OUTPUT FORMAT]
Return ONLY a JSON array wrapped in markdown code block:
` + "```json" + `
[
  {"id": "task_1", "name": "Short Name", "desc": "Detailed description"}
]
` + "```" + `
`))

	architectRetryTmpl = template.Must(template.New("architect_retry").Funcs(funcs).Parse(`[System]
The previous JSON output was invalid.
Error: {{.Error}}

[Original Request]
{{.Original}}

[Instruction]
Fix the JSON syntax. Output ONLY the valid JSON array.
REMINDER: Use "id", "name", and "desc" fields exactly as specified.
`))

	librarianTmpl = template.Must(template.New("librarian").Funcs(funcs).Parse(`/sc:index-repo

[MODE] {{.Mode}}
[DOMAIN] {{.Domain}}

[REPOSITORY CONTEXT]
{{orNone .Context "Empty repository"}}

[OUTPUT REQUIREMENT]
Write a JSON object describing the project to the output file:
{
  "name": "Project name",
  "description": "What the project does",
  "components": [{"name": "...", "path": "...", "purpose": "..."}],
  "files": [{"path": "...", "summary": "..."}]
}
`))

	integrationTmpl = template.Must(template.New("integration").Funcs(funcs).Parse(`
[ROLE] System Architect & Debugger

[CONTEXT]
Multiple features were just merged into the integration branch.
Individual unit tests passed, but the GLOBAL system test failed.
Test command: {{.TestCommand}}

[ERROR LOG]
{{.ErrorLog}}

[INSTRUCTION]
1. Analyze the error. It is likely an API mismatch or side-effect between modules.
2. Fix the code in the current directory directly using your native file editing tools.
3. After fixing, commit your changes with: git commit -am 'System Healer: Fixed integration issue'
4. Explain what you fixed and why.
- Fix the root cause, not symptoms
- Prefer simple solutions over complex ones
- If multiple modules are wrong, fix them all
`))

	ctoTmpl = template.Must(template.New("cto").Funcs(funcs).Parse(`/sc:analyze

[CTO ARCHITECTURAL REVIEW]

Review the code changes made in this entire development session.

Session Commits:
{{orNone .Commits "No commits"}}

Changes Summary:
{{orNone .Stat "No changes"}}

Focus on:
1. Architectural inconsistencies (e.g., mixed naming conventions, inconsistent patterns)
2. Redundant code introduced by parallel agents
3. Potential security risks in the new code
4. API design issues (breaking changes, poor interfaces)
5. Code style violations (inconsistent formatting, unclear naming)

Generate a Markdown report with:
- Executive Summary (1-2 sentences)
- Quality Score (1-10)
- Issues Found (list with severity: CRITICAL/HIGH/MEDIUM/LOW)
- Recommendations for follow-up work
`))
)

func render(t *template.Template, data any) string {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		// Templates are static and data is plain structs; failure is a
		// programming error.
		panic(fmt.Sprintf("render %s prompt: %v", t.Name(), err))
	}
	return sb.String()
}

// Build renders the first-attempt task prompt.
func Build(d BuildData) string { return render(buildTmpl, d) }

// Heal renders a heal-attempt prompt.
func Heal(d HealData) string { return render(healTmpl, d) }

// Review renders the review gate prompt.
func Review(d ReviewData) string { return render(reviewTmpl, d) }

// Mediator renders the conflict resolution prompt.
func Mediator(d MediatorData) string { return render(mediatorTmpl, d) }

// Architect renders the planning prompt.
func Architect(d ArchitectData) string { return render(architectTmpl, d) }

// ArchitectRetry wraps the planning prompt with the previous validation error.
func ArchitectRetry(d ArchitectRetryData) string { return render(architectRetryTmpl, d) }

// Librarian renders the index generation prompt.
func Librarian(d LibrarianData) string { return render(librarianTmpl, d) }

// Integration renders the integration healer prompt.
func Integration(d IntegrationData) string { return render(integrationTmpl, d) }

// CTO renders the final architectural review prompt.
func CTO(d CTOData) string { return render(ctoTmpl, d) }

// RequirementsTemplate is written to a fresh repository for the operator
// to fill in before the first run.
const RequirementsTemplate = `# Requirements

Describe what should be built. The architect reads this file to plan tasks.

## Goals

-

## Constraints

-

## Acceptance criteria

-
`
