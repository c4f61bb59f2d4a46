package transcript

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestContentJSON(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{"plain", Text("hi"), `"hi"`},
		{"empty blocks", Blocks(), `[]`},
		{"text block", Blocks(TextBlock{Text: "a"}), `[{"type":"text","text":"a"}]`},
		{"empty text block", Blocks(TextBlock{}), `[{"type":"text","text":""}]`},
		{"tool use", Blocks(ToolUseBlock{ID: "t1", Name: "add"}), `[{"type":"tool_use","id":"t1","name":"add","input":{}}]`},
		{"tool result", Blocks(ToolResultBlock{ToolUseID: "t1", Content: json.RawMessage(`"Error: x"`), IsError: true}),
			`[{"type":"tool_result","tool_use_id":"t1","content":"Error: x","is_error":true}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.content)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestContentUnmarshalErrors(t *testing.T) {
	bad := []string{
		`null`,
		`42`,
		`[{"type":"tool_use","name":"x"}]`,
		`[{"type":"tool_result"}]`,
		`[{"type":"text"}]`,
	}
	for _, in := range bad {
		var c Content
		if err := json.Unmarshal([]byte(in), &c); err == nil {
			t.Errorf("Unmarshal(%s) should fail", in)
		}
	}
}

func TestPlainText(t *testing.T) {
	c := Blocks(TextBlock{Text: "a"}, ToolUseBlock{ID: "1", Name: "x"}, TextBlock{Text: "b"})
	if c.PlainText() != "ab" {
		t.Errorf("PlainText = %q", c.PlainText())
	}
}

func TestCheckToolPairing(t *testing.T) {
	use := func(ids ...string) Message {
		var blocks []Block
		for _, id := range ids {
			blocks = append(blocks, ToolUseBlock{ID: id, Name: "tool"})
		}
		return Message{Role: RoleAssistant, Content: Blocks(blocks...)}
	}
	result := func(ids ...string) Message {
		var blocks []Block
		for _, id := range ids {
			blocks = append(blocks, ToolResultBlock{ToolUseID: id})
		}
		return Message{Role: RoleUser, Content: Blocks(blocks...)}
	}

	tests := []struct {
		name    string
		msgs    []Message
		wantErr string
	}{
		{"empty", nil, ""},
		{"paired", []Message{UserText("q"), use("a", "b"), result("a", "b"), AssistantText("done")}, ""},
		{"unknown result", []Message{UserText("q"), result("zzz")}, "unknown tool_use"},
		{"double answer", []Message{use("a"), result("a"), result("a")}, "answered twice"},
		{"user before result", []Message{use("a"), UserText("next")}, "before"},
		{"dangling", []Message{UserText("q"), use("a")}, "without a result"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckToolPairing(tt.msgs)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
