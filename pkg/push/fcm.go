// Package push sends device notifications through Firebase Cloud Messaging.
package push

import (
	"context"
	"errors"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	fcm "firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// ErrUnregistered means the token is no longer valid and should be deactivated.
var ErrUnregistered = errors.New("push token is unregistered")

type Message struct {
	Title string
	Body  string
	Data  map[string]string
	// Urgent maps to high delivery priority on every platform.
	Urgent bool
}

type Sender interface {
	Send(ctx context.Context, token string, msg Message) error
}

type FCMSender struct {
	client *fcm.Client
}

// NewFCMSender initialises a Firebase app from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile, projectID string) (*FCMSender, error) {
	if credentialsFile == "" {
		return nil, errors.New("firebase credentials path not provided")
	}
	if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("firebase credentials file not found at %s", credentialsFile)
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting firebase messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, token string, msg Message) error {
	_, err := s.client.Send(ctx, buildMessage(token, msg))
	if err == nil {
		return nil
	}
	if fcm.IsUnregistered(err) || fcm.IsInvalidArgument(err) {
		return fmt.Errorf("%w: %v", ErrUnregistered, err)
	}
	return fmt.Errorf("fcm send failed: %w", err)
}

func buildMessage(token string, msg Message) *fcm.Message {
	androidPriority, apnsPriority, webUrgency := "normal", "5", "normal"
	if msg.Urgent {
		androidPriority, apnsPriority, webUrgency = "high", "10", "high"
	}
	return &fcm.Message{
		Token: token,
		Notification: &fcm.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:    msg.Data,
		Android: &fcm.AndroidConfig{Priority: androidPriority},
		APNS: &fcm.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
		},
		Webpush: &fcm.WebpushConfig{
			Headers: map[string]string{"Urgency": webUrgency},
		},
	}
}
