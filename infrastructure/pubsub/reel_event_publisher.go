package pubsub

import (
	"context"
	"errors"

	"reel-tracker/domain/dto"
	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

var errClientNotConfigured = errors.New("pubsub client not configured")

type ReelEventPublisher struct {
	PubSubClient *pubsub.Client
	topic        string
}

func NewReelEventPublisher(pubSubClient *pubsub.Client, topic string) repository.IReelEventPublisher {
	if topic == "" {
		topic = "reel-events"
	}
	return &ReelEventPublisher{PubSubClient: pubSubClient, topic: topic}
}

func (p *ReelEventPublisher) PublishSessionCompleted(ctx context.Context, session *model.RefreshSession) error {
	payload, err := dto.NewRefreshSessionEvent(session).Marshal()
	if err != nil {
		return err
	}
	serverID, err := p.Publish(ctx, p.topic, payload, map[string]string{
		"event_type": dto.EventRefreshSessionCompleted,
		"session_id": session.ID,
	})
	if err != nil {
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).WithField("session_id", session.ID).Info("Refresh session event published")
	return nil
}

// Publish sends payload to topicName, creating the topic when it does not exist yet.
func (p *ReelEventPublisher) Publish(ctx context.Context, topicName string, payload []byte, attributes map[string]string) (string, error) {
	if p.PubSubClient == nil {
		return "", errClientNotConfigured
	}
	topic := p.PubSubClient.Topic(topicName)
	defer topic.Stop()

	exists, err := topic.Exists(ctx)
	if err != nil {
		return "", err
	}
	if !exists {
		logger.GetLogger().WithField("topic", topicName).Info("Topic doesn't exist - creating it")
		if _, err = p.PubSubClient.CreateTopic(ctx, topicName); err != nil {
			return "", err
		}
	}

	return topic.Publish(ctx, &pubsub.Message{Data: payload, Attributes: attributes}).Get(ctx)
}
