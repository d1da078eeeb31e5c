package alert

import "context"

// TopicAlerts is the websocket topic carrying change events. Tenant scoped
// subscribers listen on TopicAlerts + ":" + tenant.
const TopicAlerts = "alerts"

const eventAlertsChanged = "alerts.changed"

// Publisher is implemented by the websocket hub.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, data interface{}) error
}

func TopicFor(tenantID string) string {
	if tenantID == "" {
		return TopicAlerts
	}
	return TopicAlerts + ":" + tenantID
}

// Topics is the initial subscription for a connection of tenantID.
func Topics(tenantID string) []string {
	return []string{TopicFor(tenantID)}
}

// AllowTopic limits a connection to its own tenant's topic. The unscoped
// topic carries every tenant's events and is open to unscoped connections
// and admins only.
func AllowTopic(tenantID string, roles []string, topic string) bool {
	if topic == TopicFor(tenantID) {
		return true
	}
	if topic != TopicAlerts {
		return false
	}
	if tenantID == "" {
		return true
	}
	for _, r := range roles {
		if r == "admin" {
			return true
		}
	}
	return false
}

// TopicSink forwards change events to a Publisher. Events of a tenant are
// also published on the unscoped topic.
type TopicSink struct {
	pub Publisher
}

func NewTopicSink(pub Publisher) *TopicSink {
	return &TopicSink{pub: pub}
}

func (s *TopicSink) AlertsChanged(ctx context.Context, ev ChangeEvent) error {
	if err := s.pub.Publish(ctx, TopicFor(ev.TenantID), eventAlertsChanged, ev); err != nil {
		return err
	}
	if ev.TenantID != "" {
		return s.pub.Publish(ctx, TopicAlerts, eventAlertsChanged, ev)
	}
	return nil
}
