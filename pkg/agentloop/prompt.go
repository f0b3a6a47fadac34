package agentloop

import (
	"fmt"
	"strings"

	"github.com/opsforge/opsforge/pkg/models"
)

const basePrompt = `You are an experienced Linux system administrator managing a VPS over SSH on behalf of the user. You have tools for filesystem access, system inspection, Docker, Nginx, TLS certificates, databases, backups, and GitHub.

Guidelines:
- Prefer dedicated tools over raw execute_command when one fits.
- Inspect before you modify: read configs and check service state first.
- Destructive operations pause for user approval; explain what the command will do when that happens.
- Report command output honestly, including failures.
- Be concise. The user is watching a live stream of your work.`

// buildSystemPrompt assembles the section-based system prompt: server
// context, GitHub context, recent command history, and an optional research
// appendix.
func buildSystemPrompt(server *models.Server, gh *models.GitHubIntegration, recent []*models.CommandHistory, researchBlock string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	b.WriteString("\n\n## Server\n")
	fmt.Fprintf(&b, "%s (%s:%d), connecting as %s", server.Name, server.Host, port(server), server.Username)

	if gh != nil {
		b.WriteString("\n\n## GitHub\n")
		fmt.Fprintf(&b, "Connected repository: %s (branch %s). ", gh.RepositoryURL, branch(gh))
		b.WriteString("Use the github_* tools; the stored token is applied automatically and must never be echoed.")
	}

	if len(recent) > 0 {
		b.WriteString("\n\n## Recent commands on this server\n")
		for _, entry := range recent {
			marker := "ok"
			if entry.ExitCode != 0 {
				marker = fmt.Sprintf("exit %d", entry.ExitCode)
			}
			fmt.Fprintf(&b, "- [%s] %s\n", marker, firstLine(entry.Command))
		}
	}

	if researchBlock != "" {
		b.WriteString("\n\n")
		b.WriteString(researchBlock)
	}
	return b.String()
}

func port(s *models.Server) int {
	if s.Port == 0 {
		return 22
	}
	return s.Port
}

func branch(gh *models.GitHubIntegration) string {
	if gh.Branch == "" {
		return "main"
	}
	return gh.Branch
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// withAttachmentMarkers appends one marker line per attachment so the model
// sees that files accompanied the message.
func withAttachmentMarkers(content string, attachments []string) string {
	if len(attachments) == 0 {
		return content
	}
	var b strings.Builder
	b.WriteString(content)
	for _, name := range attachments {
		b.WriteString("\n[Attachment: ")
		b.WriteString(name)
		b.WriteString("]")
	}
	return b.String()
}
