package notify

import (
	"context"
	"fmt"

	"github.com/zatomos/krab-relay/pkg/models"
	"go.uber.org/zap"
)

const (
	unknownSender    = "Unknown"
	unknownCommenter = "Someone"
	unknownGroup     = "your group"
)

// Outcome summarizes one webhook run. Skipped is set when the run ended
// early without sending, which is not an error.
type Outcome struct {
	Skipped string
	Sent    int
	Failed  int
}

// Service runs the notification webhooks
type Service struct {
	store  Store
	sender Sender
	logger *zap.Logger
}

// NewService creates a webhook service
func NewService(store Store, sender Sender, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		sender: sender,
		logger: logger,
	}
}

// NewImage notifies every member of the group an image was posted to.
// Individual send failures are logged and do not stop the loop.
func (s *Service) NewImage(ctx context.Context, rec models.ImageGroupRecord, logger *zap.Logger) (Outcome, error) {
	logger = s.scoped(logger).With(
		zap.String("image_id", rec.ImageID),
		zap.String("group_id", rec.GroupID))

	groupName, err := s.store.GroupName(ctx, rec.GroupID)
	if err != nil {
		logger.Error("Error fetching group name", zap.Error(err))
		return Outcome{}, fmt.Errorf("group lookup: %w", err)
	}

	image, err := s.store.Image(ctx, rec.ImageID)
	if err != nil {
		logger.Error("Error fetching image data", zap.Error(err))
		return Outcome{}, fmt.Errorf("image lookup: %w", err)
	}

	sender, err := s.store.Username(ctx, image.UploadedBy)
	if err != nil {
		logger.Warn("Sender username unavailable", zap.String("user_id", image.UploadedBy), zap.Error(err))
		sender = unknownSender
	}

	members, err := s.store.GroupMembers(ctx, rec.GroupID)
	if err != nil {
		logger.Error("Error fetching members", zap.Error(err))
		return Outcome{}, fmt.Errorf("members lookup: %w", err)
	}
	if len(members) == 0 {
		logger.Info("No members found for the group")
		return Outcome{Skipped: "no members"}, nil
	}

	tokens, err := s.store.FCMTokens(ctx, members)
	if err != nil {
		logger.Error("Error fetching user FCM tokens", zap.Error(err))
		return Outcome{}, fmt.Errorf("token lookup: %w", err)
	}
	if len(tokens) == 0 {
		logger.Info("No valid FCM tokens found")
		return Outcome{Skipped: "no tokens"}, nil
	}

	title := fmt.Sprintf("%s sent an image in group %s", sender, groupName)
	data := map[string]string{
		"type":     "new_image",
		"image_id": rec.ImageID,
		"group_id": rec.GroupID,
	}

	var out Outcome
	for i, token := range tokens {
		msg := Message{Token: token, Title: title, Body: image.Description, Data: data}
		if err := s.sender.Send(ctx, msg); err != nil {
			logger.Error("Error sending notification", zap.Int("recipient", i), zap.Error(err))
			out.Failed++
			continue
		}
		out.Sent++
	}

	logger.Info("New image notifications processed",
		zap.Int("sent", out.Sent),
		zap.Int("failed", out.Failed))
	return out, nil
}

// NewComment notifies the uploader of the commented image. A failed send
// is returned as an error.
func (s *Service) NewComment(ctx context.Context, rec models.CommentRecord, logger *zap.Logger) (Outcome, error) {
	logger = s.scoped(logger).With(
		zap.String("image_id", rec.ImageID),
		zap.String("group_id", rec.GroupID))

	image, err := s.store.Image(ctx, rec.ImageID)
	if err != nil {
		logger.Error("Error fetching image data", zap.Error(err))
		return Outcome{}, fmt.Errorf("image lookup: %w", err)
	}

	commenter, err := s.store.Username(ctx, rec.UserID)
	if err != nil {
		logger.Warn("Commenter username unavailable", zap.String("user_id", rec.UserID), zap.Error(err))
		commenter = unknownCommenter
	}

	token, err := s.store.FCMToken(ctx, image.UploadedBy)
	if err != nil || token == "" {
		logger.Info("Uploader has no FCM token or error fetching uploader info", zap.Error(err))
		return Outcome{Skipped: "no token"}, nil
	}

	groupName, err := s.store.GroupName(ctx, rec.GroupID)
	if err != nil {
		groupName = unknownGroup
	}

	msg := Message{
		Token: token,
		Title: fmt.Sprintf("%s commented on your image in %s", commenter, groupName),
		Body:  rec.Text,
		Data: map[string]string{
			"type":     "new_comment",
			"image_id": rec.ImageID,
			"group_id": rec.GroupID,
		},
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		logger.Error("Error sending notification", zap.Error(err))
		return Outcome{Failed: 1}, fmt.Errorf("send: %w", err)
	}

	logger.Info("New comment notification sent")
	return Outcome{Sent: 1}, nil
}

func (s *Service) scoped(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return s.logger
}
