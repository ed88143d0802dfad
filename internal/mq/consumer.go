package mq

import (
	"context"
	"encoding/json"
	"log"

	"mygame/netsim/pkg/config"
)

// Consume delivers session events from the queue to handle until ctx is
// done. A handler error requeues the message; undecodable messages are
// dropped.
func Consume(ctx context.Context, cfg config.MQConfig, handle func(Event) error) error {
	conn, ch, err := open(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	msgs, err := ch.Consume(
		cfg.QueueName,
		"",
		false, // auto-ack
		false, false, false, nil,
	)
	if err != nil {
		return err
	}

	log.Printf("MQ Consumer started, waiting for messages on queue: %s", cfg.QueueName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal(msg.Body, &e); err != nil {
				log.Printf("Failed to unmarshal message: %v", err)
				msg.Nack(false, false)
				continue
			}
			if err := handle(e); err != nil {
				log.Printf("Failed to handle %s event: %v", e.Type, err)
				msg.Nack(false, true) // requeue
				continue
			}
			msg.Ack(false)
		}
	}
}
