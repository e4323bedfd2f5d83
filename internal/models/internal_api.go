package models

import "github.com/google/uuid"

// Request and response bodies of the internal collaborator API

// DiscoveryStatus is returned by GET /pending_devices/{serialId}/discovery
type DiscoveryStatus struct {
	SerialID        SerialID      `json:"serialId"`
	Type            DeviceType    `json:"type"`
	State           AdoptionState `json:"state"`
	PendingDeviceID *uuid.UUID    `json:"pendingDeviceId,omitempty"`
}

// IntroduceRequest binds a device public key
type IntroduceRequest struct {
	PublicKeyPEM string `json:"publicKeyPem" validate:"required,pem"`
}

// AcknowledgeRequest names the hub relaying the acknowledgement
type AcknowledgeRequest struct {
	HubSerialID *SerialID `json:"hubSerialId,omitempty"`
}

// AdoptRequest is sent when a hub already paired the node locally
type AdoptRequest struct {
	HubSerialID  string `json:"hubSerialId" validate:"required,serial"`
	SerialID     string `json:"serialId" validate:"required,serial"`
	SharedSecret string `json:"sharedSecret" validate:"max=256"`
}

// DeviceKey is the identity returned by GET /devices/{serialId}
type DeviceKey struct {
	SerialID     SerialID   `json:"serialId"`
	Type         DeviceType `json:"type"`
	PublicKeyPEM string     `json:"publicKeyPem"`
	HubSerialID  *SerialID  `json:"hubSerialId,omitempty"`
	Trusted      bool       `json:"trusted"`
}

// RelayRequest carries a message a hub relayed from one of its nodes
type RelayRequest struct {
	SerialID string `json:"serialId" validate:"required,serial"`
	Message  string `json:"message" validate:"required,max=1024"`
}
