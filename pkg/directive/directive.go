// Package directive defines the declarative inputs of a test run: which
// topics to provision (and in which role), how to connect to them, and where
// the bundle came from / where evidence goes.
package directive

import (
	"fmt"
)

type Role string

const (
	RoleProducer Role = "producer"
	RoleConsumer Role = "consumer"
)

func (r Role) Valid() bool {
	return r == RoleProducer || r == RoleConsumer
}

// Protocol is the Kafka security protocol for one (topic, role) pair.
type Protocol string

const (
	ProtocolPlaintext     Protocol = "PLAINTEXT"
	ProtocolSSL           Protocol = "SSL"
	ProtocolSASLPlaintext Protocol = "SASL_PLAINTEXT"
	ProtocolSASLSSL       Protocol = "SASL_SSL"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolPlaintext, ProtocolSSL, ProtocolSASLPlaintext, ProtocolSASLSSL:
		return true
	}
	return false
}

// EventFilter is one entry of a consumer topic's allow-list. A consumed
// record is kept iff its (type, payloadversion) matches some filter.
type EventFilter struct {
	EventType string `json:"eventType"`
	Version   string `json:"version"`
}

type TopicDirective struct {
	Topic           string            `json:"topic"`
	Role            Role              `json:"role"`
	ClientPrincipal string            `json:"clientPrincipal,omitempty"`
	EventFilters    []EventFilter     `json:"eventFilters,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`

	// BootstrapServers overrides the engine default for this topic only.
	// Unset means "use the default"; empty string is rejected by Validate.
	BootstrapServers *string `json:"bootstrapServers,omitempty"`
}

// KafkaSecurityDirective pairs with a TopicDirective by (topic, role). The
// credential blob is opaque to everything except the Kafka client setup.
type KafkaSecurityDirective struct {
	Topic          string   `json:"topic"`
	Role           Role     `json:"role"`
	Protocol       Protocol `json:"protocol"`
	CredentialBlob []byte   `json:"credentialBlob,omitempty"`
}

// BlockStorageDirective is the parsed test bundle manifest. Immutable after
// load; consumed once by the engine.
type BlockStorageDirective struct {
	ObjectStorageLocation string            `json:"objectStorageLocation"`
	EvidenceDir           string            `json:"evidenceDir"`
	Bucket                string            `json:"bucket"`
	TopicDirectives       []TopicDirective  `json:"topicDirectives"`
	UserGluePackages      []string          `json:"userGluePackages,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
}

// SecurityFor returns the security directive matching (topic, role), if any.
func SecurityFor(secs []KafkaSecurityDirective, topic string, role Role) (KafkaSecurityDirective, error) {
	for _, s := range secs {
		if s.Topic == topic && s.Role == role {
			return s, nil
		}
	}
	return KafkaSecurityDirective{}, fmt.Errorf("no security directive for topic %q role %q", topic, role)
}
