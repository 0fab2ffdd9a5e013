// Package bridge connects the Loxone client to the MQTT bus and the
// local persistence layers.
//
// It is the glue at the centre of LoxBridge:
//
//   - State events from the Miniserver are published retained to
//     loxbridge/state/{uuid}, recorded in the history store, and, when
//     numeric, written to InfluxDB.
//   - Commands arriving on loxbridge/command/{uuid}/{command} are
//     forwarded to the Miniserver; an optional value rides in the
//     payload as JSON.
//
// MQTT, history, and telemetry are all optional: the bridge degrades to
// whichever sinks are configured.
package bridge
