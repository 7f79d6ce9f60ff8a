package notification

import (
	"context"
	"errors"
	"time"

	"drug-analytics/worker"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSAPI ist der Ausschnitt des SQS-Clients, den der Consumer benötigt.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient erstellt einen SQS-Client; endpoint überschreibt die AWS-Adresse (LocalStack).
func NewSQSClient(awsCfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// SQSConfig steuert das Long Polling.
type SQSConfig struct {
	QueueURL    string
	WaitTime    time.Duration
	MaxMessages int32
}

// SQSConsumer liest S3-Events aus einer Queue und verarbeitet sie auf einem Worker-Pool.
// Eine Nachricht wird gelöscht, sobald kein Objekt mehr erneut zugestellt werden muss;
// sonst macht SQS sie nach Ablauf des Visibility Timeouts wieder sichtbar.
type SQSConsumer struct {
	client    SQSAPI
	cfg       SQSConfig
	pool      *worker.Pool
	processor BlobProcessor
	log       *zap.Logger
}

func NewSQSConsumer(client SQSAPI, cfg SQSConfig, pool *worker.Pool, processor BlobProcessor, log *zap.Logger) *SQSConsumer {
	if cfg.MaxMessages < 1 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	return &SQSConsumer{
		client:    client,
		cfg:       cfg,
		pool:      pool,
		processor: processor,
		log:       log.With(zap.String("queue", cfg.QueueURL)),
	}
}

// Run pollt, bis ctx beendet wird.
func (c *SQSConsumer) Run(ctx context.Context) error {
	c.log.Info("Consuming blob notifications")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			c.log.Error("Failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *SQSConsumer) poll(ctx context.Context) error {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
	})
	if err != nil {
		return err
	}
	for _, msg := range out.Messages {
		msg := msg
		job := func(ctx context.Context) error {
			c.handle(ctx, aws.ToString(msg.MessageId), aws.ToString(msg.Body), msg.ReceiptHandle)
			return nil
		}
		if err := c.pool.Submit(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQSConsumer) handle(ctx context.Context, messageID, body string, receipt *string) {
	log := c.log.With(zap.String("message_id", messageID))
	results, err := HandleEvent(ctx, c.processor, []byte(body))
	if err != nil {
		// Nicht dekodierbare Nachrichten werden nie erfolgreich; sie würden die Queue nur blockieren.
		log.Error("Dropping undecodable notification", zap.Error(err))
	} else if NeedsRedelivery(results) {
		log.Warn("Leaving notification for redelivery", zap.Any("results", results))
		return
	}
	for _, r := range results {
		log.Debug("Blob handled", zap.String("blob_key", r.BlobKey), zap.String("outcome", string(r.Outcome)))
	}
	if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: receipt,
	}); err != nil {
		log.Error("Failed to delete message", zap.Error(err))
	}
}
