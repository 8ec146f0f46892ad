package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"appraisal-backend/internal/config"
	"appraisal-backend/internal/domain/events"
	"appraisal-backend/internal/infrastructure/eventbus"
)

func newRelayTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(config.Events{
		QueueSize:        64,
		Workers:          2,
		HandlerTimeout:   5 * time.Second,
		SubscriberBuffer: 32,
	}, zaptest.NewLogger(t), nil)
	bus.Start()
	t.Cleanup(bus.Stop)
	return bus
}

func dialRelay(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRelayStreamsBusEvents(t *testing.T) {
	bus := newRelayTestBus(t)
	srv := httptest.NewServer(NewRelay(bus, nil, zaptest.NewLogger(t)))
	defer srv.Close()

	conn := dialRelay(t, srv)
	require.Eventually(t, func() bool {
		return bus.Stats().Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.Publish(events.NewPriceChanged("item-1", 2400, 2600))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, events.TypePriceChanged, got.Type)
	assert.Equal(t, "item-1", got.ItemID)
	assert.Equal(t, 2600.0, got.Data[events.KeyNewPrice])
}

func TestRelayPreservesPublishOrder(t *testing.T) {
	bus := newRelayTestBus(t)
	srv := httptest.NewServer(NewRelay(bus, nil, zaptest.NewLogger(t)))
	defer srv.Close()

	conn := dialRelay(t, srv)
	require.Eventually(t, func() bool {
		return bus.Stats().Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	const n = 5
	for i := 0; i < n; i++ {
		bus.Publish(events.NewPriceChanged("item-"+strconv.Itoa(i), 100, 110))
	}

	for i := 0; i < n; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var got events.Event
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "item-"+strconv.Itoa(i), got.ItemID)
	}
}

func TestRelayUnsubscribesOnDisconnect(t *testing.T) {
	bus := newRelayTestBus(t)
	srv := httptest.NewServer(NewRelay(bus, nil, zaptest.NewLogger(t)))
	defer srv.Close()

	conn := dialRelay(t, srv)
	require.Eventually(t, func() bool {
		return bus.Stats().Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool {
		return bus.Stats().Subscribers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayRejectsPlainHTTP(t *testing.T) {
	bus := newRelayTestBus(t)
	srv := httptest.NewServer(NewRelay(bus, nil, zaptest.NewLogger(t)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
