package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ControlPoint describes one control state sample.
//
// UUID is required; the display fields are optional tags that make the
// series self-describing in dashboards.
type ControlPoint struct {
	UUID     string
	Name     string
	Room     string
	Category string
	Value    float64
}

// WriteControlState records one numeric control state sample.
//
// This is the primary telemetry write: every numeric value observed on
// the event stream lands here. The write is non-blocking; points are
// batched and sent asynchronously.
//
// Example:
//
//	client.WriteControlState(influxdb.ControlPoint{
//	    UUID: "0f869a64-0200-0a9b", Name: "Office Temp",
//	    Room: "Office", Category: "Climate", Value: 21.5,
//	})
func (c *Client) WriteControlState(p ControlPoint) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"uuid": p.UUID,
	}
	if p.Name != "" {
		tags["name"] = p.Name
	}
	if p.Room != "" {
		tags["room"] = p.Room
	}
	if p.Category != "" {
		tags["category"] = p.Category
	}

	point := write.NewPoint(
		"control_state",
		tags,
		map[string]interface{}{
			"value": p.Value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and
// fields, for measurements that do not fit WriteControlState.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
