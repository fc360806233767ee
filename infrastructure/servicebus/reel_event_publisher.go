package servicebus

import (
	"context"
	"errors"

	"reel-tracker/domain/dto"
	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
)

var errClientNotConfigured = errors.New("service bus client not configured")

type ReelEventPublisher struct {
	AzservicebusClient *azservicebus.Client
	queue              string
}

func NewReelEventPublisher(azServiceBusClient *azservicebus.Client, queue string) repository.IReelEventPublisher {
	if queue == "" {
		queue = "reel-events"
	}
	return &ReelEventPublisher{AzservicebusClient: azServiceBusClient, queue: queue}
}

func (p *ReelEventPublisher) PublishSessionCompleted(ctx context.Context, session *model.RefreshSession) error {
	body, err := dto.NewRefreshSessionEvent(session).Marshal()
	if err != nil {
		return err
	}
	subject := dto.EventRefreshSessionCompleted
	return p.SendMessage(ctx, &azservicebus.Message{
		Body:                  body,
		Subject:               &subject,
		MessageID:             &session.ID,
		ApplicationProperties: map[string]any{"session_id": session.ID},
	})
}

func (p *ReelEventPublisher) SendMessage(ctx context.Context, message *azservicebus.Message) error {
	if p.AzservicebusClient == nil {
		return errClientNotConfigured
	}
	sender, err := p.AzservicebusClient.NewSender(p.queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return err
	}
	defer func(sender *azservicebus.Sender, ctx context.Context) {
		err := sender.Close(ctx)
		if err != nil {
			logger.GetLogger().
				WithField("error", err).
				Error("Error while closing sender.")
		}
	}(sender, context.WithoutCancel(ctx))

	if err := sender.SendMessage(ctx, message, nil); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending message.")
		return err
	}
	return nil
}
