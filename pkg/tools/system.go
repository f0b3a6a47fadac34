package tools

import "encoding/json"

func systemTools() []Definition {
	return []Definition{
		{
			Name:        "get_system_metrics",
			Description: "Collect CPU, memory, disk, and load metrics from the remote server.",
			Category:    CategorySystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
		{
			Name:        "check_service_status",
			Description: "Check the systemd status of a service.",
			Category:    CategorySystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"service": {"type": "string", "description": "Service unit name, e.g. nginx"}
				},
				"required": ["service"]
			}`),
		},
		{
			Name:        "get_logs",
			Description: "Fetch recent log lines from journalctl or a log file.",
			Category:    CategorySystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"source": {"type": "string", "description": "Service unit name or absolute log file path"},
					"lines": {"type": "integer", "description": "Number of trailing lines (default 100)", "minimum": 1},
					"since": {"type": "string", "description": "journalctl --since expression, e.g. '1 hour ago'"}
				},
				"required": ["source"]
			}`),
		},
		{
			Name:        "package_manage",
			Description: "Manage OS packages via apt. install/remove/upgrade require approval.",
			Category:    CategorySystem,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["install", "remove", "upgrade", "update", "search", "list"]},
					"package": {"type": "string", "description": "Package name; required for install/remove/search"}
				},
				"required": ["action"]
			}`),
		},
		{
			Name:        "process_manage",
			Description: "List processes or send a signal to a process.",
			Category:    CategorySystem,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["list", "kill", "term"]},
					"pid": {"type": "integer", "description": "Target PID; required for kill/term", "minimum": 1},
					"filter": {"type": "string", "description": "Substring filter for list"}
				},
				"required": ["action"]
			}`),
		},
		{
			Name:        "cron_manage",
			Description: "Inspect or modify the crontab of the connecting user.",
			Category:    CategorySystem,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["list", "add", "remove"]},
					"entry": {"type": "string", "description": "Full crontab line; required for add/remove"}
				},
				"required": ["action"]
			}`),
		},
		{
			Name:        "network_diagnose",
			Description: "Run a network diagnostic: open ports, connectivity, DNS resolution.",
			Category:    CategorySystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"check": {"type": "string", "enum": ["ports", "ping", "dns", "connections"]},
					"target": {"type": "string", "description": "Host for ping/dns checks"}
				},
				"required": ["check"]
			}`),
		},
		{
			Name:        "security_audit",
			Description: "Run a read-only security sweep: failed logins, listening sockets, world-writable files, pending updates.",
			Category:    CategorySystem,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"scope": {"type": "string", "enum": ["logins", "sockets", "permissions", "updates", "all"]}
				},
				"required": ["scope"]
			}`),
		},
	}
}
