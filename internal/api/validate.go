package api

import (
	"fmt"
	"net/url"

	"fieldroute/internal/model"
)

var knownWebhookEvents = map[string]struct{}{
	"event.created":        {},
	"event.status_changed": {},
	"route.optimized":      {},
}

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	for _, e := range req.Events {
		if _, ok := knownWebhookEvents[e]; !ok {
			return fmt.Errorf("unknown event type: %s (allowed: event.created, event.status_changed, route.optimized)", e)
		}
	}
	return nil
}
