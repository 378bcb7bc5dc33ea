package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-backend/internal/models"
)

func TestCollector_CountsEvents(t *testing.T) {
	c := New(nil)

	ev := &models.DeviceEvent{Type: models.EventCommandDelivered, Kind: models.TaskKindWakeup, Source: models.SourceDevice}
	require.NoError(t, c.WriteEvent(context.Background(), ev))
	require.NoError(t, c.WriteEvent(context.Background(), ev))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.events.WithLabelValues("command_delivered", "wakeup", "device")))
}

func TestCollector_FailureCounters(t *testing.T) {
	c := New(nil)
	c.PersistFailed(errors.New("disk full"))
	c.EventDropped(models.DeviceEvent{})
	c.EventDropped(models.DeviceEvent{})
	c.SinkFailed("clickhouse", errors.New("timeout"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkErrors.WithLabelValues("clickhouse")))
}

func TestCollector_HandlerExposesFleetGauges(t *testing.T) {
	c := New(func() (int, int) { return 3, 1 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "power_devices_registered 3")
	assert.Contains(t, string(body), "power_devices_online 1")
}
