package signature

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "UUID extraction",
			message: "Failed to process request 550e8400-e29b-41d4-a716-446655440000",
			want:    "failed to process request <UUID>",
		},
		{
			name:    "IP address with port",
			message: "Connection from 192.168.1.100:5432 refused",
			want:    "connection from <IP> refused",
		},
		{
			name:    "Timestamp extraction",
			message: "Event at 2024-01-15T10:30:00Z processed",
			want:    "event at <TIME> processed",
		},
		{
			name:    "Duration extraction",
			message: "Request took 150ms to complete",
			want:    "request took <DUR> to complete",
		},
		{
			name:    "Number extraction",
			message: "Processed 1234 records in batch 5678",
			want:    "processed <NUM> records in batch <NUM>",
		},
		{
			name:    "Quoted string extraction",
			message: `Error: "connection refused" for host 'db-server'`,
			want:    "error: <STR> for host <STR>",
		},
		{
			name:    "Contractions survive",
			message: "Can't open socket",
			want:    "can't open socket",
		},
		{
			name:    "File path extraction",
			message: "Failed to read /var/log/app/error.log",
			want:    "failed to read <PATH>",
		},
		{
			name:    "Hex ID extraction",
			message: "Trace ID: abc123def456789012345678 not found",
			want:    "trace id: <HEX> not found",
		},
		{
			name:    "0x pointer",
			message: "segfault at 0x7ffee4b2",
			want:    "segfault at <HEX>",
		},
		{
			name:    "Bracketed value",
			message: "worker [pid=4411] exited",
			want:    "worker <VAR> exited",
		},
		{
			name:    "Email and URL",
			message: "Mail to ops@example.com failed via https://smtp.example.com/send?id=9",
			want:    "mail to <EMAIL> failed via <URL>",
		},
		{
			name:    "Multiple patterns",
			message: "User 12345 from 10.0.0.1 requested /api/v1/users at 2024-01-15T10:30:00Z",
			want:    "user <NUM> from <IP> requested <PATH> at <TIME>",
		},
		{
			name:    "Digits inside identifiers",
			message: "cache shard7 miss for key user42",
			want:    "cache shard<NUM> miss for key user<NUM>",
		},
		{
			name:    "Whitespace collapse",
			message: "  too   many\n\tspaces  ",
			want:    "too many spaces",
		},
		{
			name:    "Empty message",
			message: "   ",
			want:    EmptyMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.message))
		})
	}
}

func TestExtract_Consistency(t *testing.T) {
	groups := [][]string{
		{
			"Failed to process request 550e8400-e29b-41d4-a716-446655440000",
			"Failed to process request 123e4567-e89b-12d3-a456-426614174000",
		},
		{
			"Timeout after 30s calling payments (req_id=981)",
			"Timeout after 45s calling payments (req_id=12)",
		},
		{
			"Order 1001 failed at 2024-01-01 10:00:00",
			"Order 99 failed at 2024-03-09 23:59:59",
		},
	}

	for _, g := range groups {
		first := Extract(g[0])
		for _, msg := range g[1:] {
			assert.Equal(t, first, Extract(msg), "messages differing only in variable data should share a signature")
		}
	}
}

func TestExtract_Distinct(t *testing.T) {
	a := Extract("Database connection refused")
	b := Extract("Disk quota exceeded")
	c := Extract("Database connection timed out")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestExtract_Deterministic(t *testing.T) {
	msg := "GET /orders/42 returned 500 in 120ms [trace=ab12cd34ef]"
	want := Extract(msg)
	for i := 0; i < 50; i++ {
		assert.Equal(t, want, Extract(msg))
	}
}

func TestExtract_Truncates(t *testing.T) {
	long := strings.Repeat("word ", 200)

	got := Extract(long)
	assert.Equal(t, DefaultMaxLength, utf8.RuneCountInString(got))

	unbounded := Extractor{}.Extract(long)
	assert.Greater(t, utf8.RuneCountInString(unbounded), DefaultMaxLength)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "NullPointerException", Label("java.lang.NullPointerException: at Foo.bar"))
	assert.Equal(t, "ConnectionError", Label("raised ConnectionError while dialing"))
	assert.Equal(t, "one two three four five six", Label("one two three four five six seven"))
}
