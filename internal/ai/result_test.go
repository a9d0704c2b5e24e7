package ai

import (
	"testing"

	"github.com/Iron-Ham/vibeflow/internal/errors"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantStatus  string
		wantMessage string
		wantCommand string
		wantErr     bool
	}{
		{
			name:        "plain object",
			text:        `{"status":"PASS","message":"all good","testCommand":"npm test"}`,
			wantStatus:  "PASS",
			wantMessage: "all good",
			wantCommand: "npm test",
		},
		{
			name:        "lowercase status in a code fence",
			text:        "```json\n{\"status\": \"fail\", \"message\": \"broken\"}\n```",
			wantStatus:  "FAIL",
			wantMessage: "broken",
		},
		{
			name:       "object inside prose",
			text:       `Done. {"status":"RESOLVED","commitHash":"abc12345"} Bye.`,
			wantStatus: "RESOLVED",
		},
		{name: "empty", text: "  ", wantErr: true},
		{name: "no object", text: "I could not finish", wantErr: true},
		{name: "array", text: `[1,2]`, wantErr: true},
		{name: "broken json", text: `{"status": }`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseResult(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrNoResult) {
					t.Errorf("ParseResult() error = %v, want ErrNoResult", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult() error = %v", err)
			}
			if r.Status() != tt.wantStatus {
				t.Errorf("Status() = %q, want %q", r.Status(), tt.wantStatus)
			}
			if r.Message() != tt.wantMessage {
				t.Errorf("Message() = %q, want %q", r.Message(), tt.wantMessage)
			}
			if got := r.Get("testCommand"); got != tt.wantCommand {
				t.Errorf("Get(testCommand) = %q, want %q", got, tt.wantCommand)
			}
		})
	}
}
