package tools

import "encoding/json"

// backupTools cover restic operations against a configured repository. All
// mutating operations (init, backup, restore, prune) are intrinsically
// dangerous; read-only ones (list, stats, diff, verify, mount) are not.
func backupTools() []Definition {
	configRef := `"config_id": {"type": "string", "description": "BackupConfig id naming the repository and credentials"}`

	return []Definition{
		{
			Name:        "backup_create",
			Description: "Create an ad-hoc tar backup of one or more paths into a local archive.",
			Category:    CategoryBackup,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"paths": {"type": "array", "items": {"type": "string"}, "description": "Paths to include"},
					"destination": {"type": "string", "description": "Archive destination path"}
				},
				"required": ["paths", "destination"]
			}`),
		},
		{
			Name:        "restic_init",
			Description: "Initialise the restic repository for a backup config.",
			Category:    CategoryBackup,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_backup",
			Description: "Run a restic backup of the config's include paths, honoring exclude patterns.",
			Category:    CategoryBackup,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `,
					"tags": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_list",
			Description: "List snapshots in the repository.",
			Category:    CategoryBackup,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_restore",
			Description: "Restore a snapshot to a target directory.",
			Category:    CategoryBackup,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `,
					"snapshot": {"type": "string", "description": "Snapshot id or 'latest'"},
					"target": {"type": "string", "description": "Directory to restore into"}
				},
				"required": ["config_id", "snapshot", "target"]
			}`),
		},
		{
			Name:        "restic_verify",
			Description: "Check repository integrity (restic check).",
			Category:    CategoryBackup,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `,
					"read_data": {"type": "boolean", "description": "Also verify pack file contents"}
				},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_prune",
			Description: "Apply the retention policy (restic forget --prune).",
			Category:    CategoryBackup,
			Dangerous:   true,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_stats",
			Description: "Show repository size and deduplication statistics.",
			Category:    CategoryBackup,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `},
				"required": ["config_id"]
			}`),
		},
		{
			Name:        "restic_diff",
			Description: "Diff two snapshots.",
			Category:    CategoryBackup,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `,
					"from": {"type": "string", "description": "Older snapshot id"},
					"to": {"type": "string", "description": "Newer snapshot id"}
				},
				"required": ["config_id", "from", "to"]
			}`),
		},
		{
			Name:        "restic_mount",
			Description: "Mount the repository read-only at a mountpoint for browsing.",
			Category:    CategoryBackup,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {` + configRef + `,
					"mountpoint": {"type": "string", "description": "Empty directory to mount at"}
				},
				"required": ["config_id", "mountpoint"]
			}`),
		},
	}
}
