package tools

import "encoding/json"

func webServerTools() []Definition {
	return []Definition{
		{
			Name:        "nginx_manage",
			Description: "Inspect or manage Nginx: test config, list sites, enable/disable a site, reload. Mutating actions require approval.",
			Category:    CategoryWebServer,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["status", "test", "reload", "list_sites", "enable_site", "disable_site", "show_config"]},
					"site": {"type": "string", "description": "Site name for enable/disable/show_config"}
				},
				"required": ["action"]
			}`),
		},
		{
			Name:        "ssl_certificate",
			Description: "Manage Let's Encrypt certificates via certbot: list, obtain, renew, revoke. Obtain and revoke require approval.",
			Category:    CategoryWebServer,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["list", "obtain", "renew", "revoke"]},
					"domain": {"type": "string", "description": "Domain for obtain/revoke"},
					"email": {"type": "string", "description": "Registration email for obtain"}
				},
				"required": ["action"]
			}`),
		},
		{
			Name:        "database_query",
			Description: "Run a SQL statement against a local PostgreSQL or MySQL server. Any modifying statement requires approval.",
			Category:    CategoryWebServer,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"engine": {"type": "string", "enum": ["postgres", "mysql"]},
					"database": {"type": "string", "description": "Database name"},
					"query": {"type": "string", "description": "SQL to execute"}
				},
				"required": ["engine", "database", "query"]
			}`),
		},
	}
}
