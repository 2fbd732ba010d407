package protocol

import "encoding/json"

// Command tags for the server to client direction.
const (
	CmdRender         = "render"
	CmdDestroy        = "destroy"
	CmdFocus          = "focus"
	CmdScrollIntoView = "scroll_into_view"
	CmdRedirect       = "redirect"
	CmdOpen           = "open"
	CmdDispatchEvent  = "dispatch_event"
	CmdSendState      = "send_state"
	CmdPushURL        = "push_url"
	CmdReplaceURL     = "replace_url"
	CmdBuildAndRender = "build_and_render"
)

// Command is one server to client effect. The Command tag selects which of
// the optional fields are meaningful; unused fields are omitted on the
// wire.
type Command struct {
	Command string `json:"command"`

	// render / destroy / send_state / build_and_render
	ComponentID string `json:"component_id,omitempty"`
	HTML        string `json:"html,omitempty"`

	// render out-of-band target, build_and_render insertion target,
	// dispatch_event target selector
	Target string `json:"target,omitempty"`

	// redirect / open / push_url / replace_url
	URL string `json:"url,omitempty"`

	// open
	WindowTarget string `json:"window_target,omitempty"`
	WindowName   string `json:"window_name,omitempty"`

	// focus / scroll_into_view
	Selector string `json:"selector,omitempty"`
	Behavior string `json:"behavior,omitempty"`
	Block    string `json:"block,omitempty"`

	// dispatch_event
	Event      string `json:"event,omitempty"`
	Detail     any    `json:"detail,omitempty"`
	Bubbles    bool   `json:"bubbles,omitempty"`
	Cancelable bool   `json:"cancelable,omitempty"`
	Composed   bool   `json:"composed,omitempty"`

	// send_state: signed state blob and its fingerprint
	State       string `json:"state,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// build_and_render parent link
	ParentID string `json:"parent_id,omitempty"`
}

// Encode serializes the command for the wire.
func (c *Command) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses one server to client command.
func DecodeCommand(data []byte) (*Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
