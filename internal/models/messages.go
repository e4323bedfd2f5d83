package models

// CommandType names the frames the gateway pushes down to a hub
type CommandType string

const (
	CommandEnableNodeAdoption CommandType = "ws_enable_node_adoption"
	CommandSendMessageToNode  CommandType = "ws_send_message_to_node"
)

// NodeCommand is published by the application server and delivered by the
// gateway to the session registered for HubSerialID.
type NodeCommand struct {
	HubSerialID  SerialID    `json:"hub_serial_id"`
	Type         CommandType `json:"type"`
	SerialID     SerialID    `json:"serial_id"`
	Message      string      `json:"message,omitempty"`
	SharedSecret string      `json:"shared_secret,omitempty"`
}

// Notification is the audit event envelope handed to the push sender
type Notification struct {
	SpaceID string    `json:"spaceId"`
	Event   *EventLog `json:"event"`
}
