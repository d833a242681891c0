package logparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Gautam2086/SignalTrace/internal/errors"
	"github.com/Gautam2086/SignalTrace/internal/model"
)

var ref = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	t = t.UTC()
	return &t
}

func TestParseLine_Text(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantTime    *time.Time
		wantLevel   model.Level
		wantService string
		wantMessage string
	}{
		{
			name:        "timestamp level service message",
			line:        "2024-01-15 10:30:00.123 ERROR payment-service Connection refused to db",
			wantTime:    ts("2024-01-15T10:30:00.123Z"),
			wantLevel:   model.LevelError,
			wantService: "payment-service",
			wantMessage: "Connection refused to db",
		},
		{
			name:        "ISO with zone and bracketed service",
			line:        "2024-01-15T10:30:00+02:00 [WARN] [api] slow response",
			wantTime:    ts("2024-01-15T08:30:00Z"),
			wantLevel:   model.LevelWarn,
			wantService: "api",
			wantMessage: "slow response",
		},
		{
			name:        "comma millis and WARNING alias",
			line:        "[2024-01-15 10:30:00,250] WARNING worker: queue depth high",
			wantTime:    ts("2024-01-15T10:30:00.25Z"),
			wantLevel:   model.LevelWarn,
			wantService: "worker",
			wantMessage: "queue depth high",
		},
		{
			name:        "plain word after level is message",
			line:        "2024-01-15 10:30:00 INFO Starting server on port 8080",
			wantTime:    ts("2024-01-15T10:30:00Z"),
			wantLevel:   model.LevelInfo,
			wantMessage: "Starting server on port 8080",
		},
		{
			name:        "fatal normalizes to error",
			line:        "FATAL out of memory",
			wantLevel:   model.LevelError,
			wantMessage: "out of memory",
		},
		{
			name:        "level key value",
			line:        `time="x" level=warn msg="disk almost full" service=storage`,
			wantLevel:   model.LevelWarn,
			wantService: "storage",
			wantMessage: `time="x" level=warn msg="disk almost full" service=storage`,
		},
		{
			name:        "uppercase token inside line",
			line:        "worker 3 reported ERROR while flushing",
			wantLevel:   model.LevelError,
			wantMessage: "worker 3 reported ERROR while flushing",
		},
		{
			name:        "lowercase word inside line",
			line:        "connection error while reading upstream",
			wantLevel:   model.LevelError,
			wantMessage: "connection error while reading upstream",
		},
		{
			name:        "syslog prefix with lowercase level",
			line:        "Jan 15 10:00:00 host1 app: error connecting to db",
			wantTime:    ts("2024-01-15T10:00:00Z"),
			wantLevel:   model.LevelError,
			wantMessage: "host1 app: error connecting to db",
		},
		{
			name:        "lowercase warning after service",
			line:        "payment worker: warning queue depth high",
			wantLevel:   model.LevelWarn,
			wantMessage: "payment worker: warning queue depth high",
		},
		{
			name:        "negated level word",
			line:        "no error occurred during sync",
			wantMessage: "no error occurred during sync",
		},
		{
			name:        "lowercase alias is ordinary text",
			line:        "sending alert to on-call",
			wantMessage: "sending alert to on-call",
		},
		{
			name:        "malformed line keeps message",
			line:        "   ~~~ garbage ~~~",
			wantMessage: "~~~ garbage ~~~",
		},
	}

	p := (&Parser{Reference: ref})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := p.ParseLine(7, tt.line)

			assert.Equal(t, 7, rec.LineNumber)
			assert.Equal(t, tt.line, rec.Raw)
			assert.Equal(t, tt.wantLevel, rec.Level)
			assert.Equal(t, tt.wantService, rec.Service)
			assert.Equal(t, tt.wantMessage, rec.Message)
			if tt.wantTime == nil {
				assert.Nil(t, rec.Timestamp)
			} else {
				require.NotNil(t, rec.Timestamp)
				assert.True(t, tt.wantTime.Equal(*rec.Timestamp), "got %v", rec.Timestamp)
			}
		})
	}
}

func TestParseLine_JSON(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantTime    *time.Time
		wantLevel   model.Level
		wantService string
		wantMessage string
	}{
		{
			name:        "standard keys",
			line:        `{"timestamp":"2024-01-15T10:30:00Z","level":"error","service":"auth","message":"token expired"}`,
			wantTime:    ts("2024-01-15T10:30:00Z"),
			wantLevel:   model.LevelError,
			wantService: "auth",
			wantMessage: "token expired",
		},
		{
			name:        "pino numeric level and epoch millis",
			line:        `{"time":1705314600000,"level":40,"msg":"retrying","app":"billing"}`,
			wantTime:    ts("2024-01-15T10:30:00Z"),
			wantLevel:   model.LevelWarn,
			wantService: "billing",
			wantMessage: "retrying",
		},
		{
			name:        "alias keys",
			line:        `{"@timestamp":"2024-01-15 10:30:00","severity":"CRITICAL","component":"db","event":"replica lag"}`,
			wantTime:    ts("2024-01-15T10:30:00Z"),
			wantLevel:   model.LevelError,
			wantService: "db",
			wantMessage: "replica lag",
		},
		{
			name:        "no message key falls back to raw",
			line:        `{"level":"info","status":200}`,
			wantLevel:   model.LevelInfo,
			wantMessage: `{"level":"info","status":200}`,
		},
		{
			name:        "invalid JSON is treated as text",
			line:        `{"level":"info",`,
			wantMessage: `{"level":"info",`,
		},
	}

	p := (&Parser{Reference: ref})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := p.ParseLine(1, tt.line)

			assert.Equal(t, tt.wantLevel, rec.Level)
			assert.Equal(t, tt.wantService, rec.Service)
			assert.Equal(t, tt.wantMessage, rec.Message)
			if tt.wantTime == nil {
				assert.Nil(t, rec.Timestamp)
			} else {
				require.NotNil(t, rec.Timestamp)
				assert.True(t, tt.wantTime.Equal(*rec.Timestamp), "got %v", rec.Timestamp)
			}
		})
	}
}

func TestParse_PreservesLineNumbers(t *testing.T) {
	text := "first line\r\n\n   \nERROR fourth line\nlast"

	records := (&Parser{Reference: ref}).Parse(text)

	require.Len(t, records, 3)
	assert.Equal(t, []int{1, 4, 5}, []int{records[0].LineNumber, records[1].LineNumber, records[2].LineNumber})
	assert.Equal(t, "first line", records[0].Raw)
	assert.Equal(t, model.LevelError, records[1].Level)
}

func TestParse_Empty(t *testing.T) {
	assert.Empty(t, (&Parser{Reference: ref}).Parse(""))
	assert.Empty(t, (&Parser{Reference: ref}).Parse("\n\n  \n"))
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, CountLines(""))
	assert.Equal(t, 1, CountLines("one"))
	assert.Equal(t, 1, CountLines("one\n"))
	assert.Equal(t, 3, CountLines("one\n\nthree"))
}

func TestDecode(t *testing.T) {
	t.Run("utf8 with BOM", func(t *testing.T) {
		text, err := Decode([]byte("\xEF\xBB\xBFERROR boom"))
		require.NoError(t, err)
		assert.Equal(t, "ERROR boom", text)
	})

	t.Run("latin1 fallback", func(t *testing.T) {
		text, err := Decode([]byte("caf\xe9 closed"))
		require.NoError(t, err)
		assert.Equal(t, "café closed", text)
	})

	t.Run("utf16 with BOM", func(t *testing.T) {
		text, err := Decode([]byte{0xFF, 0xFE, 'o', 0, 'k', 0})
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	})

	t.Run("binary rejected", func(t *testing.T) {
		_, err := Decode([]byte{0x7f, 'E', 'L', 'F', 0x00, 0x01})
		require.Error(t, err)
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUploadInvalid))
	})

	t.Run("empty is not an error", func(t *testing.T) {
		text, err := Decode(nil)
		require.NoError(t, err)
		assert.Empty(t, text)
	})
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"2024-01-15T10:30:00Z", ts("2024-01-15T10:30:00Z")},
		{"2024-01-15T10:30:00.5+0100", ts("2024-01-15T09:30:00.5Z")},
		{"2024-01-15 10:30", ts("2024-01-15T10:30:00Z")},
		{"2024-01-15", ts("2024-01-15T00:00:00Z")},
		{"1705314600", ts("2024-01-15T10:30:00Z")},
		{"not a time", nil},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseTimestamp(tt.in, ref)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestParse_AnchorsToInput(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantLast *time.Time
	}{
		{
			name:     "latest ISO timestamp anchors syslog year",
			text:     "2023-03-10T08:00:00Z ERROR [api] boom\nJan 15 09:00:00 WARN slow\n",
			wantLast: ts("2023-01-15T09:00:00Z"),
		},
		{
			name:     "JSON epoch anchors syslog year",
			text:     `{"ts":1678435200,"level":"error","msg":"boom"}` + "\nFeb 01 12:00:00 WARN slow",
			wantLast: ts("2023-02-01T12:00:00Z"),
		},
		{
			name:     "no absolute timestamp uses the default reference",
			text:     "Jan 15 09:00:00 WARN slow",
			wantLast: ts("2000-01-15T09:00:00Z"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := New().Parse(tt.text)
			require.NotEmpty(t, records)
			last := records[len(records)-1]
			require.NotNil(t, last.Timestamp)
			assert.True(t, tt.wantLast.Equal(*last.Timestamp), "got %v", last.Timestamp)

			again := New().Parse(tt.text)
			assert.Equal(t, records, again)
		})
	}
}
