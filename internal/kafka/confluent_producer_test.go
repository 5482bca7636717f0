package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	confluent "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/roomchat/internal/domain"
)

func TestNewEventMessage_KeyedByRoom(t *testing.T) {
	req := require.New(t)
	topic := "chat-messages"
	ev := domain.NewChatEvent(&domain.Message{
		ID:        "01HZX",
		SenderID:  "u-1",
		RoomID:    3,
		Content:   "alice: hello",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}, "lobby")

	msg, err := newEventMessage(&topic, ev)
	req.NoError(err)

	req.Equal("lobby", string(msg.Key))
	req.Equal(topic, *msg.TopicPartition.Topic)
	req.Equal(confluent.PartitionAny, msg.TopicPartition.Partition)

	var decoded domain.ChatEvent
	req.NoError(json.Unmarshal(msg.Value, &decoded))
	req.Equal("alice: hello", decoded.Content)
	req.Equal("lobby", decoded.Room)
	req.Equal(uint(3), decoded.RoomID)
}

func TestNoopProducer(t *testing.T) {
	req := require.New(t)
	var p EventProducer = NoopProducer{}
	req.NoError(p.PublishChatEvent(context.Background(), &domain.ChatEvent{}))
	req.NoError(p.Close())
}
