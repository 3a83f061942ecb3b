package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/orielfx/api/internal/config"
)

// EmailSender defines the interface for outbound email delivery
type EmailSender interface {
	Send(ctx context.Context, msg *EmailMessage) error
	IsConfigured() bool
}

// EmailMessage is one outbound message. Delivery guarantees beyond this
// call belong to the email subsystem.
type EmailMessage struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	FromName string `json:"from_name,omitempty"`
}

// EmailClient implements EmailSender against the email delivery
// microservice
type EmailClient struct {
	httpClient *http.Client
	baseURL    string
	fromName   string
}

// NewEmailClient creates a new email delivery client
func NewEmailClient(cfg *config.EmailConfig) *EmailClient {
	return &EmailClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:  cfg.ServiceURL,
		fromName: cfg.FromName,
	}
}

// Send posts the message to the delivery service
func (c *EmailClient) Send(ctx context.Context, msg *EmailMessage) error {
	if msg.FromName == "" {
		msg.FromName = c.fromName
	}

	bodyBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("email service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *EmailClient) IsConfigured() bool {
	return c.baseURL != ""
}

// ConsoleEmailSender logs messages instead of delivering them. Used in
// development when no email service is configured.
type ConsoleEmailSender struct{}

func (ConsoleEmailSender) Send(_ context.Context, msg *EmailMessage) error {
	log.Printf("Email (console mode) to=%s subject=%q\n%s", msg.To, msg.Subject, msg.Body)
	return nil
}

func (ConsoleEmailSender) IsConfigured() bool {
	return false
}
