package zkstore

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pipeline/internal/connector"
	"github.com/roach88/pipeline/internal/connector/connectortest"
	"github.com/roach88/pipeline/internal/record"
)

// Integration tests need a live ensemble, e.g.
// PIPELINE_ZK_SERVERS=127.0.0.1:2181 go test ./internal/connector/zkstore
func servers(t *testing.T) []string {
	t.Helper()
	env := os.Getenv("PIPELINE_ZK_SERVERS")
	if env == "" {
		t.Skip("PIPELINE_ZK_SERVERS not set")
	}
	return strings.Split(env, ",")
}

func TestConformance(t *testing.T) {
	addrs := servers(t)
	n := 0
	connectortest.Run(t, connectortest.Harness{
		New: func(t *testing.T) connector.Connector {
			n++
			root := fmt.Sprintf("/pipeline-test-%d-%d", time.Now().UnixNano(), n)
			s, err := Dial(addrs, 5*time.Second, WithRoot(root))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	})
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"player", "player"},
		{"lock:player", "lock:player"},
		{"a/b", "a%2Fb"},
		{".", "%2E"},
		{"..", "%2E%2E"},
		{"with space", "with%20space"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := escape(tt.in)
			assert.Equal(t, tt.want, got)

			back, err := unescape(got)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestRecordPath(t *testing.T) {
	s := New(nil, WithRoot("apps/pipeline"))
	assert.Equal(t, "/apps/pipeline/lock:player/p%2F1", s.recordPath(record.NewKey("lock:player", "p/1")))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	rec := connectortest.Rec("player", "p1", 4, record.Document{"name": "Ann"})

	data, err := encode(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":4,"payload":{"name":"Ann"},"modified":"2024-01-01T00:00:00Z"}`, string(data))

	got, err := decode(rec.Key, data)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.True(t, rec.LastModified.Equal(got.LastModified))
}
