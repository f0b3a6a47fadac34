// Package monitor produces point-in-time health reports for managed servers.
// A report is collected by running a single read-only probe command over SSH
// and parsing the sectioned output; alert derivation runs locally against
// fixed thresholds so an unreachable host still yields a usable report.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/opsforge/opsforge/pkg/models"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/vault"
)

// Alert severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Thresholds for derived alerts. Load thresholds are per CPU against the
// five-minute average.
const (
	diskWarnPercent   = 80.0
	diskCritPercent   = 90.0
	memoryWarnPercent = 80.0
	memoryCritPercent = 90.0
	loadWarnPerCPU    = 1.0
	loadCritPerCPU    = 2.0

	probeTimeoutSeconds = 30
)

// probeCommand gathers every metric in one round trip. Section markers keep
// the parse independent of locale-sensitive column headers where possible;
// -P and -BM pin df to POSIX single-line output in megabytes.
const probeCommand = "echo '=== HOST ==='; hostname; " +
	"echo '=== UPTIME ==='; cat /proc/uptime; " +
	"echo '=== LOAD ==='; cat /proc/loadavg; " +
	"echo '=== CPUS ==='; nproc; " +
	"echo '=== MEMORY ==='; free -m; " +
	"echo '=== DISK ==='; df -P -BM /"

// Alert is a threshold breach derived from a report.
type Alert struct {
	Severity  string  `json:"severity"`
	Metric    string  `json:"metric"`
	Message   string  `json:"message"`
	Value     float64 `json:"value,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Report is the monitoring snapshot for one server. Metric fields sit at the
// top level next to the derived alerts so handlers can return it directly.
type Report struct {
	ServerID    string    `json:"serverId"`
	Reachable   bool      `json:"reachable"`
	Hostname    string    `json:"hostname,omitempty"`
	UptimeSecs  int64     `json:"uptimeSeconds,omitempty"`
	Load1       float64   `json:"load1"`
	Load5       float64   `json:"load5"`
	Load15      float64   `json:"load15"`
	CPUCount    int       `json:"cpuCount,omitempty"`
	MemTotalMB  int       `json:"memoryTotalMb,omitempty"`
	MemUsedMB   int       `json:"memoryUsedMb,omitempty"`
	MemPercent  float64   `json:"memoryPercent"`
	DiskTotalMB int       `json:"diskTotalMb,omitempty"`
	DiskUsedMB  int       `json:"diskUsedMb,omitempty"`
	DiskPercent float64   `json:"diskPercent"`
	CollectedAt time.Time `json:"collectedAt"`
	Alerts      []Alert   `json:"alerts"`
}

// Config wires a Collector. ServerVault opens server credentials for the
// SSH hop.
type Config struct {
	Runner      sshexec.Runner
	Store       store.Store
	ServerVault *vault.Vault
	Logger      *slog.Logger
}

// Collector assembles reports on demand. It holds no per-server state; every
// Snapshot call probes the host fresh.
type Collector struct {
	runner      sshexec.Runner
	store       store.Store
	serverVault *vault.Vault
	logger      *slog.Logger
}

// New builds a Collector from cfg.
func New(cfg Config) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		runner:      cfg.Runner,
		store:       cfg.Store,
		serverVault: cfg.ServerVault,
		logger:      logger,
	}
}

// Snapshot probes serverID and returns its report. Store and credential
// failures return an error; an unreachable or misbehaving host does not —
// connectivity problems are what a monitoring surface exists to show, so
// they come back as a critical alert on the report instead.
func (c *Collector) Snapshot(ctx context.Context, serverID string) (*Report, error) {
	server, err := c.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	credential, err := c.serverVault.DecryptGCM(server.EncryptedCredential)
	if err != nil {
		return nil, fmt.Errorf("open server credential: %w", err)
	}
	conn := sshexec.ServerConnection{Host: server.Host, Port: server.Port, Username: server.Username}
	if server.AuthMethod == models.AuthMethodKey {
		conn.PrivateKey = credential
	} else {
		conn.Password = credential
	}

	report := &Report{ServerID: serverID, CollectedAt: time.Now().UTC(), Alerts: []Alert{}}

	result, err := c.runner.Run(ctx, conn, probeCommand, probeTimeoutSeconds)
	if err != nil {
		c.logger.Warn("Monitor probe failed", "server_id", serverID, "error", err)
		report.Alerts = append(report.Alerts, Alert{
			Severity: SeverityCritical,
			Metric:   "connectivity",
			Message:  fmt.Sprintf("probe failed: %s", err),
		})
		return report, nil
	}

	report.Reachable = true
	parseProbe(result.Stdout, report)
	report.Alerts = deriveAlerts(report)
	return report, nil
}

// parseProbe fills report from the sectioned probe output. Missing or
// malformed sections leave their fields at zero values rather than failing
// the whole report.
func parseProbe(out string, report *Report) {
	sections := splitSections(out)

	report.Hostname = strings.TrimSpace(sections["HOST"])

	if fields := strings.Fields(sections["UPTIME"]); len(fields) >= 1 {
		if up, err := strconv.ParseFloat(fields[0], 64); err == nil {
			report.UptimeSecs = int64(up)
		}
	}

	if fields := strings.Fields(sections["LOAD"]); len(fields) >= 3 {
		report.Load1, _ = strconv.ParseFloat(fields[0], 64)
		report.Load5, _ = strconv.ParseFloat(fields[1], 64)
		report.Load15, _ = strconv.ParseFloat(fields[2], 64)
	}

	if n, err := strconv.Atoi(strings.TrimSpace(sections["CPUS"])); err == nil {
		report.CPUCount = n
	}

	parseMemory(sections["MEMORY"], report)
	parseDisk(sections["DISK"], report)
}

// splitSections cuts output on the `=== NAME ===` markers emitted by the
// probe command.
func splitSections(out string) map[string]string {
	sections := make(map[string]string)
	var name string
	var body strings.Builder
	flush := func() {
		if name != "" {
			sections[name] = body.String()
		}
		body.Reset()
	}
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "=== ") && strings.HasSuffix(trimmed, " ===") {
			flush()
			name = strings.TrimSuffix(strings.TrimPrefix(trimmed, "=== "), " ===")
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// parseMemory reads the Mem: row of `free -m`. When the available column is
// present (procps >= 3.3.10) the usage percentage counts reclaimable cache
// as free; otherwise it falls back to used/total.
func parseMemory(section string, report *Report) {
	for _, line := range strings.Split(section, "\n") {
		if !strings.HasPrefix(line, "Mem:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return
		}
		total, err1 := strconv.Atoi(fields[1])
		used, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || total <= 0 {
			return
		}
		report.MemTotalMB = total
		report.MemUsedMB = used
		if len(fields) >= 7 {
			if avail, err := strconv.Atoi(fields[6]); err == nil {
				report.MemPercent = round1(float64(total-avail) / float64(total) * 100)
				return
			}
		}
		report.MemPercent = round1(float64(used) / float64(total) * 100)
		return
	}
}

// parseDisk reads the single data row of `df -P -BM /`.
func parseDisk(section string, report *Report) {
	for _, line := range strings.Split(section, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || !strings.HasSuffix(fields[1], "M") {
			continue
		}
		total, err1 := strconv.Atoi(strings.TrimSuffix(fields[1], "M"))
		used, err2 := strconv.Atoi(strings.TrimSuffix(fields[2], "M"))
		pct, err3 := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		report.DiskTotalMB = total
		report.DiskUsedMB = used
		report.DiskPercent = pct
		return
	}
}

func deriveAlerts(report *Report) []Alert {
	alerts := []Alert{}

	alerts = appendThreshold(alerts, "disk",
		fmt.Sprintf("root filesystem at %.1f%% capacity", report.DiskPercent),
		report.DiskPercent, diskWarnPercent, diskCritPercent)

	alerts = appendThreshold(alerts, "memory",
		fmt.Sprintf("memory at %.1f%% of %d MB", report.MemPercent, report.MemTotalMB),
		report.MemPercent, memoryWarnPercent, memoryCritPercent)

	if report.CPUCount > 0 {
		cores := float64(report.CPUCount)
		alerts = appendThreshold(alerts, "load",
			fmt.Sprintf("load average %.2f over %d CPUs", report.Load5, report.CPUCount),
			report.Load5, cores*loadWarnPerCPU, cores*loadCritPerCPU)
	}
	return alerts
}

// appendThreshold adds at most one alert for a metric: critical wins over
// warning. Zero values never alert, so hosts whose probe output lacked a
// section stay quiet.
func appendThreshold(alerts []Alert, metric, message string, value, warn, crit float64) []Alert {
	if value <= 0 {
		return alerts
	}
	switch {
	case value >= crit:
		return append(alerts, Alert{
			Severity: SeverityCritical, Metric: metric, Message: message,
			Value: value, Threshold: crit,
		})
	case value >= warn:
		return append(alerts, Alert{
			Severity: SeverityWarning, Metric: metric, Message: message,
			Value: value, Threshold: warn,
		})
	}
	return alerts
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
