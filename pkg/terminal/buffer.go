package terminal

import "strings"

const (
	historyCap      = 100
	maxLocalResults = 8
)

// commandBuffer mirrors the user's current input line by interpreting raw
// PTY input bytes. It exists only as suggestion context and is advisory: it
// can drift from the remote shell's true state (arrow keys, tab completion,
// ctrl-r are invisible to it).
type commandBuffer struct {
	line    []byte
	history []string
}

// feed consumes raw input bytes: CR/LF finalises the line into history,
// DEL/BS pops, printable bytes append.
func (b *commandBuffer) feed(data []byte) {
	for _, c := range data {
		switch {
		case c == '\r' || c == '\n':
			if len(b.line) > 0 {
				b.push(string(b.line))
				b.line = b.line[:0]
			}
		case c == 0x7f || c == '\b':
			if len(b.line) > 0 {
				b.line = b.line[:len(b.line)-1]
			}
		case c >= 0x20:
			b.line = append(b.line, c)
		}
	}
}

func (b *commandBuffer) push(command string) {
	b.history = append(b.history, command)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
}

// recent returns up to n most recent commands, newest last.
func (b *commandBuffer) recent(n int) []string {
	if len(b.history) <= n {
		return append([]string(nil), b.history...)
	}
	return append([]string(nil), b.history[len(b.history)-n:]...)
}

// commonCommands is the static table behind local suggestions.
var commonCommands = []string{
	"ls -lah",
	"cd ",
	"pwd",
	"cat ",
	"tail -f ",
	"head -n 50 ",
	"grep -r ",
	"find / -name ",
	"ps aux",
	"top",
	"htop",
	"df -h",
	"du -sh *",
	"free -m",
	"uptime",
	"systemctl status ",
	"systemctl restart ",
	"journalctl -u ",
	"docker ps",
	"docker logs ",
	"docker compose up -d",
	"apt-get update",
	"apt-get install ",
	"nginx -t",
}

// localSuggestions prefix-matches the partial against the user's own recent
// commands first, then the static table. Up to maxLocalResults entries.
func localSuggestions(partial string, history []string) []string {
	if partial == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(candidate string) {
		if len(out) >= maxLocalResults || seen[candidate] || candidate == partial {
			return
		}
		if strings.HasPrefix(candidate, partial) {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	for i := len(history) - 1; i >= 0; i-- {
		add(history[i])
	}
	for _, candidate := range commonCommands {
		add(candidate)
	}
	return out
}
