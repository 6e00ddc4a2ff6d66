package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/allocator/internal/scheduler"
)

type fakeClient struct {
	redis.UniversalClient
	channel string
	payload []byte
	err     error
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func testPlacement() *scheduler.Placement {
	return &scheduler.Placement{
		VMID:          "vm-1",
		HostID:        "h1",
		IPv4:          "10.0.0.3",
		EphemeralNet6: "2a01:4f8:10a:128b:4a::/79",
		LocalVethoIP:  "169.254.3.4",
		Score:         0.25,
		Summary:       "host h1 score 0.250",
	}
}

func TestPublisher_PublishPlacement(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, "events:placement", zap.NewNop())
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return stamp }

	require.NoError(t, p.PublishPlacement(context.Background(), testPlacement()))
	assert.Equal(t, "events:placement", client.channel)

	event, err := decodeEvent(string(client.payload))
	require.NoError(t, err)
	assert.Equal(t, EventVMAllocated, event.Type)
	assert.Equal(t, "vm-1", event.ResourceID)
	assert.True(t, stamp.Equal(event.Timestamp))

	placement, err := event.Placement()
	require.NoError(t, err)
	assert.Equal(t, testPlacement(), placement)
}

func TestPublisher_PublishError(t *testing.T) {
	client := &fakeClient{err: errors.New("connection refused")}
	p := newPublisher(client, "events:placement", zap.NewNop())

	err := p.PublishPlacement(context.Background(), testPlacement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vm-1")
	assert.Contains(t, err.Error(), "connection refused")

	assert.Error(t, p.PublishPlacement(context.Background(), nil))
}

func TestEvent_Placement(t *testing.T) {
	_, err := Event{Type: "vm.deleted", Data: json.RawMessage(`{}`)}.Placement()
	assert.Error(t, err)

	_, err = Event{Type: EventVMAllocated, Data: json.RawMessage(`[1,2]`)}.Placement()
	assert.Error(t, err)

	_, err = decodeEvent("not json")
	assert.Error(t, err)
}
