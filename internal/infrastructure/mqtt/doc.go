// Package mqtt provides MQTT broker connectivity for LoxBridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// LoxBridge uses MQTT as its outward-facing bus: Miniserver state
// changes are published to retained state topics, and commands arrive
// on the command topic tree and are forwarded to the Miniserver.
//
//	Loxone Miniserver ↔ LoxBridge ↔ MQTT Broker ↔ Consumers
//
// # Topic Scheme
//
//	loxbridge/state/{uuid}              retained control state
//	loxbridge/command/{uuid}/{command}  inbound commands
//	loxbridge/system/status             bridge online/offline (retained, LWT)
//
// Control UUIDs may themselves contain a slash (flattened subcontrols
// use "parent/child"), so command topics are parsed from the right:
// the final segment is the command, everything between the prefix and
// it is the UUID. See ParseCommandTopic.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        uuid, command, err := mqtt.ParseCommandTopic(topic)
//	        ...
//	    })
package mqtt
