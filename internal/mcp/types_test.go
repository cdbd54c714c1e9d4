package mcp

import (
	"encoding/json"
	"testing"
)

func TestServerConfigValidateStdio(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{ID: "s1", Transport: TransportStdio, Command: "mcp-server"}, false},
		{"missing id", ServerConfig{Transport: TransportStdio, Command: "mcp-server"}, true},
		{"missing command", ServerConfig{ID: "s1", Transport: TransportStdio}, true},
		{"path traversal in command", ServerConfig{ID: "s1", Transport: TransportStdio, Command: "../../etc/passwd"}, true},
		{"shell metachars in arg", ServerConfig{ID: "s1", Transport: TransportStdio, Command: "mcp-server", Args: []string{"a; rm -rf /"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfigValidateHTTP(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid http", ServerConfig{ID: "s1", Transport: TransportHTTP, URL: "https://example.com/mcp"}, false},
		{"missing url", ServerConfig{ID: "s1", Transport: TransportHTTP}, true},
		{"non-http scheme", ServerConfig{ID: "s1", Transport: TransportHTTP, URL: "ftp://example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMCPToolJSONRoundTrip(t *testing.T) {
	tool := MCPTool{Name: "search", Description: "searches things", InputSchema: json.RawMessage(`{"type":"object"}`)}

	data, err := json.Marshal(tool)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded MCPTool
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Name != tool.Name || decoded.Description != tool.Description {
		t.Errorf("decoded = %+v, want %+v", decoded, tool)
	}
}

func TestResourceContentJSONRoundTrip(t *testing.T) {
	resource := ResourceContent{URI: "file:///a.txt", MimeType: "text/plain", Text: "hello"}

	data, err := json.Marshal(resource)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded ResourceContent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded != resource {
		t.Errorf("decoded = %+v, want %+v", decoded, resource)
	}
}

func TestToolCallResultJSON(t *testing.T) {
	result := ToolCallResult{
		Content: []ToolResultContent{{Type: "text", Text: "ok"}},
		IsError: false,
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded ToolCallResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Content) != 1 || decoded.Content[0].Text != "ok" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestGetPromptResultJSON(t *testing.T) {
	result := GetPromptResult{
		Description: "greets the user",
		Messages: []PromptMessage{
			{Role: "user", Content: MessageContent{Type: "text", Text: "hi"}},
		},
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded GetPromptResult
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(decoded.Messages) != 1 || decoded.Messages[0].Content.Text != "hi" {
		t.Errorf("decoded = %+v", decoded)
	}
}
