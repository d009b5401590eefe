// Package notify delivers run summaries to operators. Runs finish in
// PARTIAL_FAILURE without aborting, so the notification is often the only
// place a permanently failed chunk surfaces.
package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// Notifier receives run summaries including permanently failed chunk keys.
type Notifier interface {
	Publish(ctx context.Context, subject, message string) error
}

// PublishAPI is the slice of the SNS client the notifier uses.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes run summaries to an SNS topic.
type SNSNotifier struct {
	client   PublishAPI
	topicARN string
}

// NewSNS creates a notifier on the given topic.
func NewSNS(client PublishAPI, topicARN string) (*SNSNotifier, error) {
	if client == nil {
		return nil, errors.New("notify: SNS client is required")
	}
	if strings.TrimSpace(topicARN) == "" {
		return nil, errors.New("notify: topic ARN is required")
	}
	return &SNSNotifier{client: client, topicARN: topicARN}, nil
}

func (n *SNSNotifier) Publish(ctx context.Context, subject, message string) error {
	// SNS caps subjects at 100 characters.
	if len(subject) > 100 {
		subject = subject[:97] + "..."
	}
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	return err
}

// LogNotifier writes summaries to the logger when no topic is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(_ context.Context, subject, message string) error {
	n.logger.Info("run notification",
		zap.String("subject", subject),
		zap.String("message", message),
	)
	return nil
}

var (
	_ Notifier = (*SNSNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
