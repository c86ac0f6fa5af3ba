package utils

import (
	"encoding/json"
	"fmt"
	"time"

	"dealflow/config"
	"dealflow/models"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"
)

// OutboundPayload is a rendered message handed to a channel provider
type OutboundPayload struct {
	UserID    uint
	DealID    uint
	Recipient string
	Subject   string
	Body      string
}

// ChannelProvider sends one rendered message and returns a provider message
// id. One implementation exists per channel; the set is resolved once at
// construction, not re-dispatched per call.
type ChannelProvider interface {
	Send(payload OutboundPayload) (string, error)
}

// ProviderSet holds the per-channel providers
type ProviderSet struct {
	Email    ChannelProvider
	SMS      ChannelProvider
	CallTask ChannelProvider
	Task     ChannelProvider
}

// NewProviderSet wires the default providers: SMTP email, HTTP SMS gateway
// and CRM task rows for the two task channels.
func NewProviderSet(db *gorm.DB) *ProviderSet {
	return &ProviderSet{
		Email:    NewEmailProvider(config.AppConfig.SMTP),
		SMS:      NewSMSProvider(config.AppConfig.SMS),
		CallTask: &TaskProvider{DB: db, Kind: "call"},
		Task:     &TaskProvider{DB: db, Kind: "todo"},
	}
}

// ForChannel resolves the provider for a step channel
func (ps *ProviderSet) ForChannel(channel string) (ChannelProvider, error) {
	switch channel {
	case models.ChannelEmail:
		return ps.Email, nil
	case models.ChannelSMS:
		return ps.SMS, nil
	case models.ChannelCallTask:
		return ps.CallTask, nil
	case models.ChannelTask:
		return ps.Task, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
}

// SMSProvider delivers through an HTTP SMS gateway
type SMSProvider struct {
	cfg config.SMSConfig
}

func NewSMSProvider(cfg config.SMSConfig) *SMSProvider {
	return &SMSProvider{cfg: cfg}
}

func (sp *SMSProvider) Send(payload OutboundPayload) (string, error) {
	if sp.cfg.GatewayURL == "" {
		return "", fmt.Errorf("SMS gateway is not configured")
	}

	body, err := json.Marshal(map[string]string{
		"from": sp.cfg.From,
		"to":   payload.Recipient,
		"body": payload.Body,
	})
	if err != nil {
		return "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(sp.cfg.GatewayURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+sp.cfg.APIKey)
	req.SetBody(body)

	if err := fasthttp.DoTimeout(req, resp, 15*time.Second); err != nil {
		return "", fmt.Errorf("SMS gateway request failed: %w", err)
	}

	if resp.StatusCode() >= 400 {
		return "", fmt.Errorf("SMS gateway returned status %d", resp.StatusCode())
	}

	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err == nil && result.MessageID != "" {
		return result.MessageID, nil
	}

	// Gateway accepted the message but returned no id
	return uuid.New().String(), nil
}

// TaskProvider creates CRM task rows for call-task and generic-task steps.
// These are internal effects; they never leave the process.
type TaskProvider struct {
	DB   *gorm.DB
	Kind string // call or todo
}

func (tp *TaskProvider) Send(payload OutboundPayload) (string, error) {
	task := models.Task{
		UserID: payload.UserID,
		DealID: &payload.DealID,
		Kind:   tp.Kind,
		Title:  payload.Subject,
		Notes:  payload.Body,
		DueAt:  Pointer(time.Now()),
	}

	if err := tp.DB.Create(&task).Error; err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	return fmt.Sprintf("task-%d", task.ID), nil
}
