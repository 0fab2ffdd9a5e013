package loxone

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// structurePath is the LoxAPP3 structure document endpoint.
const structurePath = "/data/LoxAPP3.json"

// Wire shapes of the structure document. Room and category references
// appear as numbers on older firmware and strings on newer, so they are
// kept raw and normalised during lookup. subControls is either a map
// keyed by subcontrol id or a list of objects carrying their own id.
type structureDoc struct {
	Controls map[string]structureControl `json:"controls"`
	Rooms    map[string]structureLabel   `json:"rooms"`
	Cats     map[string]structureLabel   `json:"cats"`
}

type structureLabel struct {
	Name string `json:"name"`
}

type structureControl struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Room        json.RawMessage `json:"room"`
	Cat         json.RawMessage `json:"cat"`
	States      map[string]any  `json:"states"`
	Details     map[string]any  `json:"details"`
	SubControls json.RawMessage `json:"subControls"`
}

// subcontrolIDKeys are the accepted id field names for list-form
// subcontrols, in precedence order.
var subcontrolIDKeys = []string{"id", "uuid", "uuidAction"}

// parseStructure turns a structure document into a flat control
// registry. Top-level controls keep their UUID; nested subcontrols are
// flattened into composite "parent/child" entries that inherit the
// parent's room and category and record back-references in Details.
func parseStructure(data []byte) (map[string]*Control, error) {
	var doc structureDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStructure, err)
	}

	controls := make(map[string]*Control, len(doc.Controls))
	for uuid, raw := range doc.Controls {
		ctrl := &Control{
			UUID:     uuid,
			Name:     raw.Name,
			Type:     raw.Type,
			Room:     lookupLabel(doc.Rooms, raw.Room),
			Category: lookupLabel(doc.Cats, raw.Cat),
			States:   raw.States,
			Details:  raw.Details,
		}
		if ctrl.Name == "" {
			ctrl.Name = uuid
		}
		controls[uuid] = ctrl

		for _, sub := range flattenSubcontrols(ctrl, raw.SubControls) {
			controls[sub.UUID] = sub
		}
	}

	return controls, nil
}

// lookupLabel resolves a raw room/category reference against a lookup
// table. Unresolved references yield "".
func lookupLabel(table map[string]structureLabel, ref json.RawMessage) string {
	key := refKey(ref)
	if key == "" {
		return ""
	}
	return table[key].Name
}

// refKey normalises a raw reference (number or string) to the string
// form used as the lookup table key.
func refKey(ref json.RawMessage) string {
	if len(ref) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(ref, &v); err != nil {
		return ""
	}
	switch r := v.(type) {
	case string:
		return r
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64)
	default:
		return ""
	}
}

// flattenSubcontrols expands a control's nested subControls block into
// standalone registry entries.
//
// Each entry gets a composite UUID of "parent/child", a display name
// prefixed with the parent's, the parent's room and category, and
// parent_uuid/subcontrol_id back-references in Details so command and
// state resolution can rebuild the wire address later.
func flattenSubcontrols(parent *Control, raw json.RawMessage) []*Control {
	if len(raw) == 0 {
		return nil
	}

	// Map form: {"childID": {...}, ...}
	var asMap map[string]map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		subs := make([]*Control, 0, len(asMap))
		for id, fields := range asMap {
			subs = append(subs, buildSubcontrol(parent, id, fields))
		}
		return subs
	}

	// List form: [{"id": "childID", ...}, ...]
	var asList []map[string]any
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil
	}
	var subs []*Control
	for _, fields := range asList {
		id := subcontrolID(fields)
		if id == "" {
			continue
		}
		subs = append(subs, buildSubcontrol(parent, id, fields))
	}
	return subs
}

// subcontrolID extracts the id of a list-form subcontrol object.
func subcontrolID(fields map[string]any) string {
	for _, key := range subcontrolIDKeys {
		if id, ok := fields[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

// buildSubcontrol constructs the registry entry for one subcontrol.
func buildSubcontrol(parent *Control, id string, fields map[string]any) *Control {
	name, _ := fields["name"].(string)
	if name == "" {
		name = id
	}

	typ, _ := fields["type"].(string)

	states, _ := fields["states"].(map[string]any)

	details := map[string]any{}
	if d, ok := fields["details"].(map[string]any); ok {
		for k, v := range d {
			details[k] = v
		}
	}
	details[detailParentUUID] = parent.UUID
	details[detailSubcontrolID] = id

	return &Control{
		UUID:     parent.UUID + compositeSeparator + id,
		Name:     parent.Name + " " + name,
		Type:     typ,
		Room:     parent.Room,
		Category: parent.Category,
		States:   states,
		Details:  details,
	}
}
