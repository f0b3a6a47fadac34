package terminal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBufferFeed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		history []string
		line    string
	}{
		{
			name:    "carriage return finalises",
			input:   "ls -la\r",
			history: []string{"ls -la"},
		},
		{
			name:    "newline finalises",
			input:   "pwd\n",
			history: []string{"pwd"},
		},
		{
			name:    "crlf does not record an empty command",
			input:   "uptime\r\n",
			history: []string{"uptime"},
		},
		{
			name:  "partial line stays buffered",
			input: "systemctl sta",
			line:  "systemctl sta",
		},
		{
			name:    "backspace pops",
			input:   "lsx\b\x7f\rls\r",
			history: []string{"l", "ls"},
		},
		{
			name:  "backspace on empty line is a no-op",
			input: "\b\x7f\b",
		},
		{
			name:    "control bytes are invisible",
			input:   "top\x1b\x03\r",
			history: []string{"top"},
		},
		{
			name:  "bare enter records nothing",
			input: "\r\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b commandBuffer
			b.feed([]byte(tt.input))
			assert.Equal(t, tt.history, b.history)
			assert.Equal(t, tt.line, string(b.line))
		})
	}
}

func TestCommandBufferHistoryCap(t *testing.T) {
	var b commandBuffer
	for i := 0; i < historyCap+50; i++ {
		b.feed([]byte(fmt.Sprintf("cmd-%d\r", i)))
	}

	assert.Len(t, b.history, historyCap)
	assert.Equal(t, "cmd-50", b.history[0], "oldest entries are dropped")
	assert.Equal(t, fmt.Sprintf("cmd-%d", historyCap+49), b.history[len(b.history)-1])
}

func TestCommandBufferRecent(t *testing.T) {
	var b commandBuffer
	b.feed([]byte("one\rtwo\rthree\r"))

	assert.Equal(t, []string{"two", "three"}, b.recent(2))
	assert.Equal(t, []string{"one", "two", "three"}, b.recent(10))

	// recent returns a copy; mutating it must not corrupt the buffer.
	got := b.recent(3)
	got[0] = "mutated"
	assert.Equal(t, []string{"one", "two", "three"}, b.history)
}

func TestLocalSuggestions(t *testing.T) {
	history := []string{"docker ps", "git status", "docker compose logs web"}

	t.Run("empty partial yields nothing", func(t *testing.T) {
		assert.Nil(t, localSuggestions("", history))
	})

	t.Run("history outranks the static table, newest first", func(t *testing.T) {
		got := localSuggestions("docker", history)
		assert.Equal(t, []string{
			"docker compose logs web",
			"docker ps",
			"docker logs ",
			"docker compose up -d",
		}, got)
	})

	t.Run("exact match is not suggested back", func(t *testing.T) {
		got := localSuggestions("docker ps", history)
		assert.NotContains(t, got, "docker ps")
	})

	t.Run("static table only when history misses", func(t *testing.T) {
		got := localSuggestions("systemctl", nil)
		assert.Equal(t, []string{"systemctl status ", "systemctl restart "}, got)
	})

	t.Run("capped at eight", func(t *testing.T) {
		var big []string
		for i := 0; i < 20; i++ {
			big = append(big, fmt.Sprintf("ls -la /srv/%d", i))
		}
		got := localSuggestions("ls", big)
		assert.Len(t, got, maxLocalResults)
	})

	t.Run("no match yields nothing", func(t *testing.T) {
		assert.Empty(t, localSuggestions("zzz-not-a-command", history))
	})
}
