package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"control state", topics.ControlState("uuid-1"), "loxbridge/state/uuid-1"},
		{"composite control state", topics.ControlState("parent/child"), "loxbridge/state/parent/child"},
		{"control command", topics.ControlCommand("uuid-1", "on"), "loxbridge/command/uuid-1/on"},
		{"system status", topics.SystemStatus(), "loxbridge/system/status"},
		{"all commands", topics.AllCommands(), "loxbridge/command/#"},
		{"all states", topics.AllStates(), "loxbridge/state/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommandTopic(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		wantUUID    string
		wantCommand string
		wantErr     bool
	}{
		{
			name:        "simple uuid",
			topic:       "loxbridge/command/uuid-1/on",
			wantUUID:    "uuid-1",
			wantCommand: "on",
		},
		{
			name:        "composite uuid",
			topic:       "loxbridge/command/parent/child/setValue",
			wantUUID:    "parent/child",
			wantCommand: "setValue",
		},
		{
			name:    "missing command segment",
			topic:   "loxbridge/command/uuid-1",
			wantErr: true,
		},
		{
			name:    "trailing slash",
			topic:   "loxbridge/command/uuid-1/",
			wantErr: true,
		},
		{
			name:    "wrong prefix",
			topic:   "loxbridge/state/uuid-1",
			wantErr: true,
		},
		{
			name:    "empty",
			topic:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uuid, command, err := ParseCommandTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got (%q, %q)", uuid, command)
				}
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommandTopic() error = %v", err)
			}
			if uuid != tt.wantUUID || command != tt.wantCommand {
				t.Errorf("got (%q, %q), want (%q, %q)", uuid, command, tt.wantUUID, tt.wantCommand)
			}
		})
	}
}

func TestParseCommandTopicRoundTrip(t *testing.T) {
	topics := Topics{}
	for _, uuid := range []string{"uuid-1", "parent/child", "a/b/c"} {
		topic := topics.ControlCommand(uuid, "pulse")
		gotUUID, gotCommand, err := ParseCommandTopic(topic)
		if err != nil {
			t.Fatalf("ParseCommandTopic(%q) error = %v", topic, err)
		}
		if gotUUID != uuid || gotCommand != "pulse" {
			t.Errorf("round trip of %q gave (%q, %q)", uuid, gotUUID, gotCommand)
		}
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("loxbridge")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"loxbridge"`) {
		t.Errorf("online payload malformed: %s", online)
	}

	offline := buildOfflinePayload("loxbridge")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload malformed: %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{}}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("loxbridge/state/u", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{subscriptions: map[string]subscription{}}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("loxbridge/command/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v, want ErrSubscribeFailed", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("failed subscribes were tracked: %d", c.SubscriptionCount())
	}
}
