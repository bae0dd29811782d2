package discovery

// MessageType identifies the broadcast discovery message type
type MessageType string

const (
	// MessageTypeAnnounce is sent periodically to announce presence
	MessageTypeAnnounce MessageType = "ANNOUNCE"
	// MessageTypeLeave is sent when the advertisement is retracted
	MessageTypeLeave MessageType = "LEAVE"
)

// AnnounceMessage is the UDP broadcast payload (JSON encoded)
type AnnounceMessage struct {
	Type        MessageType `json:"type"`
	Version     uint8       `json:"version"`
	Timestamp   int64       `json:"ts"`
	InstanceID  string      `json:"instance_id"`
	ServiceType string      `json:"service_type"`
	Domain      string      `json:"domain"`
	Name        string      `json:"name"`
	Port        int         `json:"port"`
}

// MaxMessageSize is the maximum UDP payload size (stay under MTU)
const MaxMessageSize = 1024
