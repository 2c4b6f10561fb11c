// Package secrets resolves per-topic Kafka security material. The core
// consumes only the Functions interface; the Vault type is the production
// implementation.
package secrets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

// Functions is the collaborator interface the engine consumes.
type Functions interface {
	// FetchSecurityDirectives resolves one security directive per
	// (topic, role) pair in the bundle.
	FetchSecurityDirectives(ctx context.Context, bsd *directive.BlockStorageDirective) ([]directive.KafkaSecurityDirective, error)
}

// Child wraps a Functions implementation; it verifies every topic directive
// got its security material before the engine proceeds.
type Child struct {
	fns Functions
	log zerolog.Logger
}

func NewChild(fns Functions, logger zerolog.Logger) *Child {
	return &Child{fns: fns, log: logger.With().Str("component", "vault-child").Logger()}
}

func (c *Child) Fetch(ctx context.Context, bsd *directive.BlockStorageDirective) ([]directive.KafkaSecurityDirective, error) {
	secs, err := c.fns.FetchSecurityDirectives(ctx, bsd)
	if err != nil {
		return nil, fmt.Errorf("fetch security directives: %w", err)
	}
	for _, td := range bsd.TopicDirectives {
		if _, err := directive.SecurityFor(secs, td.Topic, td.Role); err != nil {
			return nil, err
		}
	}
	c.log.Info().Int("directives", len(secs)).Msg("security material resolved")
	return secs, nil
}

// Static satisfies every (topic, role) with one fixed protocol. The default
// for local development clusters is PLAINTEXT.
type Static struct {
	Protocol       directive.Protocol
	CredentialBlob []byte
}

func (s Static) FetchSecurityDirectives(_ context.Context, bsd *directive.BlockStorageDirective) ([]directive.KafkaSecurityDirective, error) {
	protocol := s.Protocol
	if protocol == "" {
		protocol = directive.ProtocolPlaintext
	}
	secs := make([]directive.KafkaSecurityDirective, 0, len(bsd.TopicDirectives))
	for _, td := range bsd.TopicDirectives {
		secs = append(secs, directive.KafkaSecurityDirective{
			Topic:          td.Topic,
			Role:           td.Role,
			Protocol:       protocol,
			CredentialBlob: s.CredentialBlob,
		})
	}
	return secs, nil
}
