package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the LoxBridge MQTT tree.
//
// All topics live under a single root: loxbridge/{category}/...
const (
	// TopicRoot is the base for all LoxBridge topics.
	TopicRoot = "loxbridge"

	// TopicPrefixState is the base for retained control state topics.
	TopicPrefixState = TopicRoot + "/state"

	// TopicPrefixCommand is the base for inbound command topics.
	TopicPrefixCommand = TopicRoot + "/command"

	// TopicPrefixSystem is the base for bridge lifecycle topics.
	TopicPrefixSystem = TopicRoot + "/system"
)

// Topics provides builders for LoxBridge MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ControlState("0f869a64-0200-0a9b/AI1")
//	// Returns: "loxbridge/state/0f869a64-0200-0a9b/AI1"
type Topics struct{}

// ControlState returns the retained state topic for a control.
//
// Example: loxbridge/state/0f869a64-0200-0a9b-ffff1234
func (Topics) ControlState(uuid string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixState, uuid)
}

// ControlCommand returns the command topic for a control.
//
// Example: loxbridge/command/0f869a64-0200-0a9b-ffff1234/on
func (Topics) ControlCommand(uuid, command string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixCommand, uuid, command)
}

// SystemStatus returns the bridge status topic (retained, also the LWT
// target).
//
// Example: loxbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCommands returns a pattern matching every command topic.
//
// The multi-level wildcard is deliberate: control UUIDs can contain a
// slash (flattened subcontrols), so a fixed-depth pattern would miss
// them.
//
// Pattern: loxbridge/command/#
func (Topics) AllCommands() string {
	return TopicPrefixCommand + "/#"
}

// AllStates returns a pattern matching every state topic.
//
// Pattern: loxbridge/state/#
func (Topics) AllStates() string {
	return TopicPrefixState + "/#"
}

// ParseCommandTopic splits a command topic into control UUID and
// command name.
//
// Because composite control UUIDs contain a slash, the topic is parsed
// from the right: the last segment is the command, everything between
// the prefix and it is the UUID.
//
//	loxbridge/command/uuid-1/on          → ("uuid-1", "on")
//	loxbridge/command/parent/child/dim   → ("parent/child", "dim")
//
// An optional value rides in the payload, not the topic.
func ParseCommandTopic(topic string) (uuid, command string, err error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixCommand+"/")
	if !ok {
		return "", "", fmt.Errorf("%w: %q is not a command topic", ErrInvalidTopic, topic)
	}

	idx := strings.LastIndex(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q lacks a uuid/command pair", ErrInvalidTopic, topic)
	}

	return rest[:idx], rest[idx+1:], nil
}
