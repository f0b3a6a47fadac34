package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/opsforge/opsforge/pkg/models"
)

// commandPlan is a built shell command ready for the approval gate. history
// is the form persisted to CommandHistory when it must differ from the
// executed command (credential env assignments redacted); empty means the
// command itself is safe to persist. dangerous marks the specific action,
// not the tool: docker logs is safe even though docker_manage can stop.
type commandPlan struct {
	command   string
	history   string
	dangerous bool
	timeout   int
}

// buildCommand turns a validated tool call into a command plan. Schema
// validation has already run; this layer enforces the cross-field rules a
// JSON schema cannot express (action-conditional requirements).
func (d *Dispatcher) buildCommand(ctx context.Context, call Call) (commandPlan, error) {
	in := call.Input
	switch call.Name {
	case "execute_command":
		return commandPlan{
			command:   strArg(in, "command"),
			dangerous: false, // regex screen applies in the gate
			timeout:   intArg(in, "timeout_seconds", defaultTimeoutSeconds),
		}, nil

	case "read_file":
		start := intArg(in, "start_line", 1)
		maxLines := intArg(in, "max_lines", 500)
		end := start + maxLines - 1
		return commandPlan{
			command: fmt.Sprintf("sed -n '%d,%dp' %s", start, end, shq(strArg(in, "path"))),
		}, nil

	case "write_file":
		return buildWriteFile(strArg(in, "path"), strArg(in, "content")), nil

	case "edit_file":
		return buildEditFile(strArg(in, "path"), strArg(in, "search"), strArg(in, "replace")), nil

	case "list_directory":
		flags := "-lh"
		if boolArg(in, "all") {
			flags = "-lha"
		}
		return commandPlan{command: fmt.Sprintf("ls %s %s", flags, shq(strArg(in, "path")))}, nil

	case "get_system_metrics":
		return commandPlan{command: metricsCommand}, nil

	case "check_service_status":
		return commandPlan{
			command: fmt.Sprintf("systemctl status %s --no-pager -l", shq(strArg(in, "service"))),
		}, nil

	case "get_logs":
		return buildGetLogs(in), nil

	case "package_manage":
		return buildPackageManage(in)

	case "process_manage":
		return buildProcessManage(in)

	case "cron_manage":
		return buildCronManage(in)

	case "network_diagnose":
		return buildNetworkDiagnose(in)

	case "security_audit":
		return buildSecurityAudit(in), nil

	case "docker_list":
		return buildDockerList(in), nil

	case "docker_manage":
		return buildDockerManage(in), nil

	case "docker_compose":
		return buildDockerCompose(in), nil

	case "nginx_manage":
		return buildNginxManage(in)

	case "ssl_certificate":
		return buildSSLCertificate(in)

	case "database_query":
		return buildDatabaseQuery(in), nil

	case "backup_create":
		return buildBackupCreate(in), nil
	}

	if strings.HasPrefix(call.Name, "restic_") {
		return d.buildRestic(ctx, call)
	}
	return commandPlan{}, fmt.Errorf("no command builder for tool %q", call.Name)
}

const metricsCommand = "echo '=== CPU ==='; top -bn1 | head -5; " +
	"echo '=== MEMORY ==='; free -m; " +
	"echo '=== DISK ==='; df -h; " +
	"echo '=== LOAD ==='; uptime"

// buildWriteFile embeds path and content as JSON string literals inside a
// quoted heredoc. JSON escaping keeps each literal on one line, so the
// heredoc delimiter cannot collide with file content, and the quoted
// delimiter stops the shell from expanding anything inside.
func buildWriteFile(path, content string) commandPlan {
	script := fmt.Sprintf(`python3 - <<'OPSFORGE_PY'
path = %s
content = %s
with open(path, "w") as f:
    f.write(content)
print("wrote", len(content), "chars to", path)
OPSFORGE_PY`, pyStr(path), pyStr(content))
	return commandPlan{command: script, dangerous: true}
}

func buildEditFile(path, search, replace string) commandPlan {
	script := fmt.Sprintf(`python3 - <<'OPSFORGE_PY'
path = %s
search = %s
replace = %s
with open(path) as f:
    data = f.read()
if search not in data:
    raise SystemExit("search text not found in " + path)
with open(path, "w") as f:
    f.write(data.replace(search, replace, 1))
print("edited", path)
OPSFORGE_PY`, pyStr(path), pyStr(search), pyStr(replace))
	return commandPlan{command: script, dangerous: true}
}

func buildGetLogs(in map[string]any) commandPlan {
	source := strArg(in, "source")
	lines := intArg(in, "lines", 100)
	if strings.HasPrefix(source, "/") {
		return commandPlan{command: fmt.Sprintf("tail -n %d %s", lines, shq(source))}
	}
	cmd := fmt.Sprintf("journalctl -u %s -n %d --no-pager", shq(source), lines)
	if since := strArg(in, "since"); since != "" {
		cmd += " --since " + shq(since)
	}
	return commandPlan{command: cmd}
}

func buildPackageManage(in map[string]any) (commandPlan, error) {
	action := strArg(in, "action")
	pkg := strArg(in, "package")
	switch action {
	case "install", "remove", "search":
		if pkg == "" {
			return commandPlan{}, fmt.Errorf("package_manage: %s requires a package name", action)
		}
	}
	switch action {
	case "install":
		return commandPlan{
			command:   "DEBIAN_FRONTEND=noninteractive apt-get install -y " + shq(pkg),
			dangerous: true,
			timeout:   300,
		}, nil
	case "remove":
		return commandPlan{
			command:   "DEBIAN_FRONTEND=noninteractive apt-get remove -y " + shq(pkg),
			dangerous: true,
			timeout:   300,
		}, nil
	case "upgrade":
		return commandPlan{
			command:   "DEBIAN_FRONTEND=noninteractive apt-get upgrade -y",
			dangerous: true,
			timeout:   300,
		}, nil
	case "update":
		return commandPlan{command: "apt-get update", timeout: 120}, nil
	case "search":
		return commandPlan{command: "apt-cache search " + shq(pkg)}, nil
	case "list":
		return commandPlan{command: "apt list --installed 2>/dev/null | head -100"}, nil
	}
	return commandPlan{}, fmt.Errorf("package_manage: unsupported action %q", action)
}

func buildProcessManage(in map[string]any) (commandPlan, error) {
	action := strArg(in, "action")
	switch action {
	case "list":
		if filter := strArg(in, "filter"); filter != "" {
			return commandPlan{
				command: fmt.Sprintf("ps aux | grep -i %s | grep -v grep", shq(filter)),
			}, nil
		}
		return commandPlan{command: "ps aux --sort=-%cpu | head -30"}, nil
	case "kill", "term":
		pid := intArg(in, "pid", 0)
		if pid <= 0 {
			return commandPlan{}, fmt.Errorf("process_manage: %s requires a pid", action)
		}
		sig := "-TERM"
		if action == "kill" {
			sig = "-9"
		}
		return commandPlan{command: fmt.Sprintf("kill %s %d", sig, pid), dangerous: true}, nil
	}
	return commandPlan{}, fmt.Errorf("process_manage: unsupported action %q", action)
}

func buildCronManage(in map[string]any) (commandPlan, error) {
	action := strArg(in, "action")
	entry := strArg(in, "entry")
	if action != "list" && entry == "" {
		return commandPlan{}, fmt.Errorf("cron_manage: %s requires an entry", action)
	}
	switch action {
	case "list":
		return commandPlan{command: `crontab -l 2>/dev/null || echo "no crontab"`}, nil
	case "add":
		return commandPlan{
			command:   fmt.Sprintf("(crontab -l 2>/dev/null; echo %s) | crontab -", shq(entry)),
			dangerous: true,
		}, nil
	case "remove":
		return commandPlan{
			command:   fmt.Sprintf("crontab -l 2>/dev/null | grep -vF %s | crontab -", shq(entry)),
			dangerous: true,
		}, nil
	}
	return commandPlan{}, fmt.Errorf("cron_manage: unsupported action %q", action)
}

func buildNetworkDiagnose(in map[string]any) (commandPlan, error) {
	check := strArg(in, "check")
	target := strArg(in, "target")
	if (check == "ping" || check == "dns") && target == "" {
		return commandPlan{}, fmt.Errorf("network_diagnose: %s requires a target", check)
	}
	switch check {
	case "ports":
		return commandPlan{command: "ss -tulpn"}, nil
	case "ping":
		return commandPlan{command: "ping -c 4 " + shq(target), timeout: 20}, nil
	case "dns":
		return commandPlan{
			command: fmt.Sprintf("dig +short %s 2>/dev/null || getent hosts %s", shq(target), shq(target)),
		}, nil
	case "connections":
		return commandPlan{command: "ss -s; echo '---'; ss -tn state established | head -50"}, nil
	}
	return commandPlan{}, fmt.Errorf("network_diagnose: unsupported check %q", check)
}

func buildSecurityAudit(in map[string]any) commandPlan {
	sections := map[string]string{
		"logins":      "lastb -n 20 2>/dev/null || journalctl -u ssh -n 50 --no-pager | grep -i failed",
		"sockets":     "ss -tulpn",
		"permissions": `find / -xdev -type f -perm -0002 -not -path "/proc/*" 2>/dev/null | head -50`,
		"updates":     "apt list --upgradable 2>/dev/null | head -50",
	}
	scope := strArg(in, "scope")
	if scope != "all" {
		return commandPlan{command: sections[scope], timeout: 60}
	}
	parts := make([]string, 0, 4)
	for _, name := range []string{"logins", "sockets", "permissions", "updates"} {
		parts = append(parts, fmt.Sprintf("echo '=== %s ==='; %s", strings.ToUpper(name), sections[name]))
	}
	return commandPlan{command: strings.Join(parts, "; "), timeout: 120}
}

func buildDockerList(in map[string]any) commandPlan {
	switch strArg(in, "resource") {
	case "containers":
		if boolArg(in, "all") {
			return commandPlan{command: "docker ps -a"}
		}
		return commandPlan{command: "docker ps"}
	case "images":
		return commandPlan{command: "docker images"}
	case "volumes":
		return commandPlan{command: "docker volume ls"}
	default:
		return commandPlan{command: "docker network ls"}
	}
}

func buildDockerManage(in map[string]any) commandPlan {
	action := strArg(in, "action")
	container := shq(strArg(in, "container"))
	switch action {
	case "logs":
		return commandPlan{command: fmt.Sprintf("docker logs --tail %d %s", intArg(in, "tail", 100), container)}
	case "inspect":
		return commandPlan{command: "docker inspect " + container}
	case "remove":
		return commandPlan{command: "docker rm " + container, dangerous: true}
	default: // start, stop, restart
		return commandPlan{command: fmt.Sprintf("docker %s %s", action, container), dangerous: true, timeout: 60}
	}
}

func buildDockerCompose(in map[string]any) commandPlan {
	action := strArg(in, "action")
	dir := shq(strArg(in, "project_dir"))
	service := strArg(in, "service")

	args := action
	if action == "up" {
		args = "up -d"
	}
	if service != "" {
		args += " " + shq(service)
	}
	plan := commandPlan{command: fmt.Sprintf("cd %s && docker compose %s", dir, args)}
	switch action {
	case "up", "down", "restart":
		plan.dangerous = true
		plan.timeout = 180
	case "pull":
		plan.timeout = 180
	}
	return plan
}

func buildNginxManage(in map[string]any) (commandPlan, error) {
	action := strArg(in, "action")
	site := strArg(in, "site")
	switch action {
	case "enable_site", "disable_site", "show_config":
		if site == "" {
			return commandPlan{}, fmt.Errorf("nginx_manage: %s requires a site", action)
		}
	}
	switch action {
	case "status":
		return commandPlan{command: "systemctl status nginx --no-pager"}, nil
	case "test":
		return commandPlan{command: "nginx -t"}, nil
	case "reload":
		return commandPlan{command: "nginx -t && systemctl reload nginx", dangerous: true}, nil
	case "list_sites":
		return commandPlan{
			command: "echo '=== available ==='; ls -1 /etc/nginx/sites-available/; " +
				"echo '=== enabled ==='; ls -1 /etc/nginx/sites-enabled/",
		}, nil
	case "enable_site":
		return commandPlan{
			command: fmt.Sprintf(
				"ln -sf /etc/nginx/sites-available/%s /etc/nginx/sites-enabled/%s && nginx -t && systemctl reload nginx",
				shq(site), shq(site)),
			dangerous: true,
		}, nil
	case "disable_site":
		return commandPlan{
			command:   fmt.Sprintf("rm -f /etc/nginx/sites-enabled/%s && nginx -t && systemctl reload nginx", shq(site)),
			dangerous: true,
		}, nil
	case "show_config":
		return commandPlan{command: "cat /etc/nginx/sites-available/" + shq(site)}, nil
	}
	return commandPlan{}, fmt.Errorf("nginx_manage: unsupported action %q", action)
}

func buildSSLCertificate(in map[string]any) (commandPlan, error) {
	action := strArg(in, "action")
	domain := strArg(in, "domain")
	if (action == "obtain" || action == "revoke") && domain == "" {
		return commandPlan{}, fmt.Errorf("ssl_certificate: %s requires a domain", action)
	}
	switch action {
	case "list":
		return commandPlan{command: "certbot certificates"}, nil
	case "obtain":
		email := strArg(in, "email")
		cmd := fmt.Sprintf("certbot --nginx -d %s --non-interactive --agree-tos", shq(domain))
		if email != "" {
			cmd += " -m " + shq(email)
		} else {
			cmd += " --register-unsafely-without-email"
		}
		return commandPlan{command: cmd, dangerous: true, timeout: 120}, nil
	case "renew":
		return commandPlan{command: "certbot renew --non-interactive", timeout: 120}, nil
	case "revoke":
		return commandPlan{
			command:   fmt.Sprintf("certbot revoke --cert-name %s --non-interactive", shq(domain)),
			dangerous: true,
		}, nil
	}
	return commandPlan{}, fmt.Errorf("ssl_certificate: unsupported action %q", action)
}

// readOnlySQL matches statements that cannot modify data. Anything else is
// treated as mutating and gated.
var readOnlySQL = regexp.MustCompile(`(?i)^\s*(select|show|explain|describe|with)\b`)

func buildDatabaseQuery(in map[string]any) commandPlan {
	engine := strArg(in, "engine")
	db := strArg(in, "database")
	query := strArg(in, "query")

	var cmd string
	if engine == "postgres" {
		cmd = fmt.Sprintf("sudo -u postgres psql -d %s -c %s", shq(db), shq(query))
	} else {
		cmd = fmt.Sprintf("mysql -D %s -e %s", shq(db), shq(query))
	}
	return commandPlan{command: cmd, dangerous: !readOnlySQL.MatchString(query)}
}

func buildBackupCreate(in map[string]any) commandPlan {
	paths := strSliceArg(in, "paths")
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shq(p)
	}
	return commandPlan{
		command:   fmt.Sprintf("tar -czf %s %s", shq(strArg(in, "destination")), strings.Join(quoted, " ")),
		dangerous: true,
		timeout:   300,
	}
}

// buildRestic resolves the backup config, opens its sealed password, and
// prefixes the restic invocation with credential env assignments. The
// history form masks those assignments so plaintext never reaches the
// ledger.
func (d *Dispatcher) buildRestic(ctx context.Context, call Call) (commandPlan, error) {
	in := call.Input
	cfg, err := d.store.GetBackupConfig(ctx, strArg(in, "config_id"))
	if err != nil {
		return commandPlan{}, fmt.Errorf("restic: backup config: %w", err)
	}
	password, err := d.backupVault.DecryptGCM(cfg.EncryptedPassword)
	if err != nil {
		return commandPlan{}, fmt.Errorf("restic: open repository password: %w", err)
	}

	var args string
	dangerous := false
	timeout := 300
	switch call.Name {
	case "restic_init":
		args, dangerous = "init", true
	case "restic_backup":
		args, dangerous = resticBackupArgs(cfg, strSliceArg(in, "tags")), true
	case "restic_list":
		args, timeout = "snapshots", 60
	case "restic_restore":
		args = fmt.Sprintf("restore %s --target %s", shq(strArg(in, "snapshot")), shq(strArg(in, "target")))
		dangerous = true
	case "restic_verify":
		args = "check"
		if boolArg(in, "read_data") {
			args += " --read-data"
		}
	case "restic_prune":
		args = fmt.Sprintf("forget --keep-daily %d --keep-weekly %d --keep-monthly %d --keep-yearly %d --prune",
			cfg.Retention.Daily, cfg.Retention.Weekly, cfg.Retention.Monthly, cfg.Retention.Yearly)
		dangerous = true
	case "restic_stats":
		args, timeout = "stats", 120
	case "restic_diff":
		args = fmt.Sprintf("diff %s %s", shq(strArg(in, "from")), shq(strArg(in, "to")))
		timeout = 120
	case "restic_mount":
		mp := shq(strArg(in, "mountpoint"))
		args, timeout = fmt.Sprintf("mount %s >/dev/null 2>&1 & echo mounted at %s", mp, mp), 30
	default:
		return commandPlan{}, fmt.Errorf("no command builder for tool %q", call.Name)
	}

	env := resticEnv(cfg, password)
	redacted := resticEnv(cfg, "****")
	if cfg.SecretAccessKey != "" {
		redacted = strings.Replace(redacted, "AWS_SECRET_ACCESS_KEY="+shq(cfg.SecretAccessKey), "AWS_SECRET_ACCESS_KEY='****'", 1)
	}

	return commandPlan{
		command:   env + " restic " + args,
		history:   redacted + " restic " + args,
		dangerous: dangerous,
		timeout:   timeout,
	}, nil
}

func resticBackupArgs(cfg *models.BackupConfig, tags []string) string {
	var b strings.Builder
	b.WriteString("backup")
	for _, p := range cfg.IncludePaths {
		b.WriteString(" " + shq(p))
	}
	for _, pat := range cfg.ExcludePatterns {
		b.WriteString(" --exclude " + shq(pat))
	}
	for _, tag := range tags {
		b.WriteString(" --tag " + shq(tag))
	}
	return b.String()
}

func resticEnv(cfg *models.BackupConfig, password string) string {
	repo := cfg.RepositoryPath
	switch cfg.RepositoryType {
	case models.RepositoryS3:
		repo = "s3:" + cfg.Endpoint + "/" + cfg.RepositoryPath
	case models.RepositorySFTP:
		repo = "sftp:" + cfg.RepositoryPath
	case models.RepositoryB2:
		repo = "b2:" + cfg.RepositoryPath
	}

	env := fmt.Sprintf("RESTIC_PASSWORD=%s RESTIC_REPOSITORY=%s", shq(password), shq(repo))
	if cfg.RepositoryType == models.RepositoryS3 {
		env += fmt.Sprintf(" AWS_ACCESS_KEY_ID=%s AWS_SECRET_ACCESS_KEY=%s", shq(cfg.AccessKeyID), shq(cfg.SecretAccessKey))
		if cfg.Region != "" {
			env += " AWS_DEFAULT_REGION=" + shq(cfg.Region)
		}
	}
	return env
}

// shq single-quotes s for the remote shell.
func shq(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// pyStr renders s as a Python string literal. JSON escaping is a subset of
// Python's, and real newlines become \n, so the literal stays on one line.
func pyStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func strArg(in map[string]any, key string) string {
	v, _ := in[key].(string)
	return v
}

func intArg(in map[string]any, key string, def int) int {
	switch v := in[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func boolArg(in map[string]any, key string) bool {
	v, _ := in[key].(bool)
	return v
}

func strSliceArg(in map[string]any, key string) []string {
	raw, _ := in[key].([]any)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
