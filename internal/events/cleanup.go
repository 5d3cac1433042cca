// Package events removes the files of deleted records, either inline or via a
// kafka topic consumed in the background.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Remover deletes a storage namespace; placer.Placer satisfies it.
type Remover interface {
	Remove(ctx context.Context, namespace string) error
}

type cleanupMessage struct {
	Namespace   string    `json:"namespace"`
	RequestedAt time.Time `json:"requested_at"`
}

// InlineCleaner removes namespaces synchronously.
type InlineCleaner struct {
	remover Remover
}

func NewInlineCleaner(r Remover) *InlineCleaner {
	return &InlineCleaner{remover: r}
}

func (c *InlineCleaner) Clean(ctx context.Context, namespace string) error {
	return c.remover.Remove(ctx, namespace)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaCleaner publishes namespaces for a Consumer to remove.
type KafkaCleaner struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaCleaner(w MessageWriter) *KafkaCleaner {
	return &KafkaCleaner{writer: w, now: time.Now}
}

func (c *KafkaCleaner) Clean(ctx context.Context, namespace string) error {
	const op = "events.KafkaCleaner.Clean"

	value, err := json.Marshal(cleanupMessage{Namespace: namespace, RequestedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(namespace), Value: value}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Debug().Str("namespace", namespace).Msg("cleanup queued")
	return nil
}

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Consumer reads cleanup messages and removes the namespaces they name.
type Consumer struct {
	reader  MessageReader
	remover Remover
	backoff time.Duration
}

func NewConsumer(r MessageReader, remover Remover) *Consumer {
	return &Consumer{reader: r, remover: remover, backoff: time.Second}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("error reading cleanup message")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var m cleanupMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil || m.Namespace == "" {
		log.Warn().Int64("offset", msg.Offset).Msg("skipping malformed cleanup message")
		return
	}

	l := log.With().Str("namespace", m.Namespace).Int64("offset", msg.Offset).Logger()
	if err := c.remover.Remove(ctx, m.Namespace); err != nil {
		l.Error().Err(err).Msg("error removing namespace")
		return
	}
	l.Info().Msg("namespace removed")
}
