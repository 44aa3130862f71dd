package telemetry

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Empty(t, tel.MetricsAddr)

	metrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	require.NoError(t, err)
	metrics.CacheHit("page")
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ExposesStorageMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "gojostore-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	metrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	require.NoError(t, err)
	metrics.WalAppend(128)
	metrics.TxnCommit()

	resp, err := http.Get("http://" + tel.MetricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "gojostore_wal_appends_total")
	require.Contains(t, string(body), "gojostore_txn_committed_total")
}
