package alert

import (
	"context"
	"testing"
)

type recordingPublisher struct {
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic, eventType string, _ interface{}) error {
	if eventType != "alerts.changed" {
		panic("unexpected event type " + eventType)
	}
	p.topics = append(p.topics, topic)
	return nil
}

func TestTopicSink(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewTopicSink(pub)

	if err := sink.AlertsChanged(context.Background(), ChangeEvent{TenantID: "icu"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.AlertsChanged(context.Background(), ChangeEvent{}); err != nil {
		t.Fatal(err)
	}

	want := []string{"alerts:icu", "alerts", "alerts"}
	if len(pub.topics) != len(want) {
		t.Fatalf("expected %v, got %v", want, pub.topics)
	}
	for i := range want {
		if pub.topics[i] != want[i] {
			t.Errorf("topic %d: expected %s, got %s", i, want[i], pub.topics[i])
		}
	}
	if got := Topics("icu"); len(got) != 1 || got[0] != "alerts:icu" {
		t.Errorf("unexpected initial topics: %v", got)
	}
}

func TestAllowTopic(t *testing.T) {
	nurse := []string{"nurse"}
	tests := []struct {
		name   string
		tenant string
		roles  []string
		topic  string
		want   bool
	}{
		{"own tenant", "icu", nurse, "alerts:icu", true},
		{"other tenant", "icu", nurse, "alerts:ward", false},
		{"unscoped topic from tenant", "icu", nurse, "alerts", false},
		{"unscoped topic for admin", "icu", []string{"admin"}, "alerts", true},
		{"admin still bound to tenant topics", "icu", []string{"admin"}, "alerts:ward", false},
		{"unscoped connection", "", nurse, "alerts", true},
		{"unscoped connection other topic", "", nurse, "alerts:ward", false},
		{"unrelated topic", "icu", nurse, "metrics", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllowTopic(tt.tenant, tt.roles, tt.topic); got != tt.want {
				t.Errorf("AllowTopic(%q, %v, %q) = %v, want %v", tt.tenant, tt.roles, tt.topic, got, tt.want)
			}
		})
	}
}
