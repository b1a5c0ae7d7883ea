package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsSortable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	first := NewID(now)
	second := NewID(now)
	assert.Less(t, first, second)
	_, err := ulid.ParseStrict(first)
	require.NoError(t, err)
}

func TestLogPublisher(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	p.TokenGranted(context.Background(), TokenGranted{ID: "01", ClientID: "client", GrantType: "password", Scope: "scim"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token granted", entry["msg"])
	assert.Equal(t, "client", entry["client_id"])
	assert.Equal(t, "scim", entry["scope"])
}

func TestMetricsThroughMulti(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pub := Multi{NewLogPublisher(slog.New(slog.DiscardHandler)), metrics}
	ctx := context.Background()

	pub.TokenGranted(ctx, TokenGranted{GrantType: "password"})
	pub.TokenGranted(ctx, TokenGranted{GrantType: "password"})
	pub.GrantFailed(ctx, GrantFailed{GrantType: "refresh_token", Code: "invalid_grant"})
	pub.UMADecision(ctx, UMADecision{Outcome: "need_info"})

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.tokensGranted.WithLabelValues("password")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.grantFailures.WithLabelValues("refresh_token", "invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.umaDecisions.WithLabelValues("need_info")))
}
