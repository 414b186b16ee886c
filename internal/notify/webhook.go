package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"drawdown/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook POSTs events as JSON. With a secret set, the body is signed with
// HMAC-SHA256 in X-Drawdown-Signature.
type Webhook struct {
	URL    string
	Secret string
	Events []string
	Client *http.Client
	Now    func() time.Time
}

func (w Webhook) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w Webhook) NotifyReviewPool(ctx context.Context, reportID, ibpsNumber string) error {
	return w.post(ctx, reviewPoolEvent(reportID, ibpsNumber, w.now()))
}

func (w Webhook) NotifyActor(ctx context.Context, reportID, actorID string, status domain.Status, comments string) error {
	return w.post(ctx, actorEvent(reportID, actorID, status, comments, w.now()))
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (w Webhook) post(ctx context.Context, evt Event) error {
	if !newEventFilter(w.Events).match(evt.Kind) {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Drawdown-Event", evt.Kind)
	req.Header.Set("X-Drawdown-Delivery", uuid.NewString())
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Drawdown-Signature", Sign(w.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
