package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestExtractUserID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "X-User-ID wins",
			headers: map[string]string{"X-User-ID": "u42", "X-Forwarded-User": "alice"},
			want:    "u42",
		},
		{
			name:    "falls back to X-Forwarded-User",
			headers: map[string]string{"X-Forwarded-User": "alice"},
			want:    "alice",
		},
		{
			name: "defaults for single-user installs",
			want: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			c := e.NewContext(req, httptest.NewRecorder())

			assert.Equal(t, tt.want, extractUserID(c))
		})
	}
}
