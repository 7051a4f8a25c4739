package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type httpWebhookService struct {
	cli *http.Client
}

func NewHTTPWebhookService() WebhookService {
	return &httpWebhookService{
		cli: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *httpWebhookService) Send(ctx context.Context, url string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// webhookListener 把状态变更推到外部 webhook
type webhookListener struct {
	svc WebhookService
	url string
}

func NewWebhookListener(svc WebhookService, url string) StatusListener {
	return &webhookListener{
		svc: svc,
		url: url,
	}
}

func (l *webhookListener) OnStatusChange(ctx context.Context, change StatusChange) {
	go func() {
		err := l.svc.Send(context.WithoutCancel(ctx), l.url, map[string]any{
			"instance_id": change.InstanceID,
			"graph_id":    change.GraphID,
			"from":        change.From,
			"to":          change.To,
			"reason":      change.Reason,
			"at":          change.At,
		})
		if err != nil {
			slog.Error("failed to send status change webhook", "instance", change.InstanceID, "error", err)
		}
	}()
}
