package domain

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedState_Merge(t *testing.T) {
	s := SharedState{"time": 10.0, "paused": false}

	s.Merge(map[string]any{"time": 42.0})
	assert.Equal(t, SharedState{"time": 42.0, "paused": false}, s)

	s.Merge(map[string]any{"time": 42.0})
	assert.Equal(t, SharedState{"time": 42.0, "paused": false}, s)
}

func TestEncode(t *testing.T) {
	data, err := Encode(TypePresence, "ab12cd34", map[string]int{"clients": 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"presence","roomId":"ab12cd34","payload":{"clients":2}}`, string(data))

	_, err = Encode(TypeChat, "r", make(chan int))
	assert.Error(t, err)
}

func TestMessageType_Canonical(t *testing.T) {
	tests := []struct {
		in        MessageType
		want      MessageType
		wantKnown bool
	}{
		{in: "join", want: TypeJoin, wantKnown: true},
		{in: "join-room", want: TypeJoin, wantKnown: true},
		{in: "video-event", want: TypeSync, wantKnown: true},
		{in: "chat-message", want: TypeChat, wantKnown: true},
		{in: "video-change", want: TypeVideoChange, wantKnown: true},
		{in: "stateRequest", want: TypeStateRequest, wantKnown: true},
		{in: "reaction", want: "reaction", wantKnown: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Canonical())
			assert.Equal(t, tt.wantKnown, tt.in.Known())
		})
	}
}

func TestEnvelope_DecodeWithoutRoom(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"type":"stateRequest"}`), &env))
	assert.Equal(t, TypeStateRequest, env.Type)
	assert.Empty(t, env.RoomID)
	assert.Empty(t, env.Payload)
}

func TestSession_Room(t *testing.T) {
	s := NewSession()
	assert.Empty(t, s.SetRoom("a"))
	assert.Equal(t, "a", s.SetRoom("b"))

	assert.False(t, s.ClearRoom("a"))
	assert.Equal(t, "b", s.Room())
	assert.True(t, s.ClearRoom("b"))
	assert.Empty(t, s.Room())
}

func TestSession_TakeRoomOnce(t *testing.T) {
	s := NewSession()
	s.SetRoom("r")

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken []string
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id := s.TakeRoom(); id != "" {
				mu.Lock()
				taken = append(taken, id)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"r"}, taken)
}
