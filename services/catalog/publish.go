package catalog

import (
	"time"

	"github.com/google/uuid"
)

func (a *API) publishJSON(subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	payload["event_id"] = uuid.NewString()
	payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	_ = a.store.Bus.Publish(subject, payload)
}
