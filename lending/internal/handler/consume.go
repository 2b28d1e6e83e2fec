package handler

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/astlibr/lending-service/lending/internal/model"
	"go.uber.org/zap"
)

type adjustQuantity func(ctx context.Context, bookUid string, delta int) error

// Consumer applies restock messages from the inventory system to the
// availability ledger.
type Consumer struct {
	adjustQuantityHandler adjustQuantity
	log                   *zap.Logger
	ready                 chan bool
}

func NewConsumer(adjustQuantity adjustQuantity, log *zap.Logger) *Consumer {
	return &Consumer{
		adjustQuantityHandler: adjustQuantity,
		log:                   log.Named("consumer"),
		ready:                 make(chan bool),
	}
}

func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	// Mark the consumer as ready
	close(consumer.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				consumer.log.Warn("message channel was closed")
				return nil
			}
			var req model.RestockRequest
			if err := json.Unmarshal(message.Value, &req); err != nil {
				consumer.log.Error("restock unmarshal", zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}

			if err := consumer.adjustQuantityHandler(context.Background(), req.BookUid, req.Delta); err != nil {
				consumer.log.Error("consumer.adjustQuantityHandler", zap.Error(err))
				continue
			}

			consumer.log.Debug("Message claimed:", zap.String("value", string(message.Value)), zap.Time("timestamp", message.Timestamp), zap.String("topic", message.Topic))
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
