package tools

import "encoding/json"

func filesystemTools() []Definition {
	return []Definition{
		{
			Name:        "execute_command",
			Description: "Execute a shell command on the remote server and return its output. Use for anything without a dedicated tool.",
			Category:    CategoryFilesystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "Shell command to run, passed verbatim to the remote shell"},
					"explanation": {"type": "string", "description": "One sentence explaining why this command is needed"},
					"timeout_seconds": {"type": "integer", "description": "Timeout in seconds, clamped to 1-300", "minimum": 1}
				},
				"required": ["command", "explanation"]
			}`),
		},
		{
			Name:        "read_file",
			Description: "Read a file from the remote server. Output is capped at max_lines (default 500).",
			Category:    CategoryFilesystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path of the file to read"},
					"start_line": {"type": "integer", "description": "1-based first line to return", "minimum": 1},
					"max_lines": {"type": "integer", "description": "Maximum number of lines to return (default 500)", "minimum": 1}
				},
				"required": ["path"]
			}`),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file on the remote server, creating it if absent and overwriting otherwise.",
			Category:    CategoryFilesystem,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path of the file to write"},
					"content": {"type": "string", "description": "Full file content"}
				},
				"required": ["path", "content"]
			}`),
		},
		{
			Name:        "edit_file",
			Description: "Replace an exact text occurrence in a remote file. Fails when the search text is absent.",
			Category:    CategoryFilesystem,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path of the file to edit"},
					"search": {"type": "string", "description": "Exact text to replace"},
					"replace": {"type": "string", "description": "Replacement text"}
				},
				"required": ["path", "search", "replace"]
			}`),
		},
		{
			Name:        "list_directory",
			Description: "List a directory on the remote server with sizes and permissions.",
			Category:    CategoryFilesystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute directory path"},
					"all": {"type": "boolean", "description": "Include dotfiles"}
				},
				"required": ["path"]
			}`),
		},
	}
}
