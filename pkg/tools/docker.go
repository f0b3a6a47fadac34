package tools

import "encoding/json"

func dockerTools() []Definition {
	return []Definition{
		{
			Name:        "docker_list",
			Description: "List Docker containers, images, volumes, or networks.",
			Category:    CategoryDocker,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"resource": {"type": "string", "enum": ["containers", "images", "volumes", "networks"]},
					"all": {"type": "boolean", "description": "Include stopped containers"}
				},
				"required": ["resource"]
			}`),
		},
		{
			Name:        "docker_manage",
			Description: "Start, stop, restart, or remove a container, or fetch its logs. Mutating actions require approval.",
			Category:    CategoryDocker,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["start", "stop", "restart", "remove", "logs", "inspect"]},
					"container": {"type": "string", "description": "Container name or id"},
					"tail": {"type": "integer", "description": "Log lines for the logs action", "minimum": 1}
				},
				"required": ["action", "container"]
			}`),
		},
		{
			Name:        "docker_compose",
			Description: "Run a docker compose action in a project directory. up/down/restart require approval.",
			Category:    CategoryDocker,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["up", "down", "restart", "ps", "logs", "pull"]},
					"project_dir": {"type": "string", "description": "Directory containing the compose file"},
					"service": {"type": "string", "description": "Restrict the action to one service"}
				},
				"required": ["action", "project_dir"]
			}`),
		},
	}
}
