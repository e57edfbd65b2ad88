package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Notifier performs the best-effort completion POST. The HTTP client is
// injected by the composition root; there is no shared package-level client.
type Notifier struct {
	Client *http.Client
	Logger *slog.Logger
}

// Notify validates the payload and delivers it to the callback address.
// Delivery failure is logged and swallowed: the package has already been
// committed and is independently retrievable, so a lost callback never fails
// the job. A validation failure is returned, since it is a bug, not a
// network condition.
func (n *Notifier) Notify(ctx context.Context, callbackURI string, payload Payload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	if callbackURI == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURI, bytes.NewReader(body))
	if err != nil {
		n.Logger.WarnContext(ctx, "callback request build failed", "batch_id", payload.ID, "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Logger.WarnContext(ctx, "callback delivery failed", "batch_id", payload.ID, "uri", callbackURI, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.Logger.WarnContext(ctx, "callback rejected", "batch_id", payload.ID, "uri", callbackURI, "status", resp.StatusCode)
		return nil
	}

	n.Logger.InfoContext(ctx, "callback delivered", "batch_id", payload.ID, "uri", callbackURI)
	return nil
}
