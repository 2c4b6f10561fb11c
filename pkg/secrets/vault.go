package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	vault "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

type VaultConfig struct {
	URL      string `json:"url"`
	Insecure bool   `json:"insecure"`
	RootCA   string `json:"rootca,omitempty"`

	// Token auth, or approle when RoleID is set.
	Token    string `json:"token,omitempty"`
	RoleID   string `json:"role_id,omitempty"`
	SecretID string `json:"secret_id,omitempty"`

	// MountPath is the KV v2 mount holding per-topic material; secrets
	// live at {MountPath}/data/tests/{topic}/{role}.
	MountPath string `json:"mount_path"`
}

// Vault implements Functions against HashiCorp Vault KV v2.
type Vault struct {
	cfg    VaultConfig
	client *vault.Client
	log    zerolog.Logger
}

func NewVault(cfg VaultConfig, logger zerolog.Logger) (*Vault, error) {
	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.URL

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid vault URL %q: %w", cfg.URL, err)
	}
	if parsed.Scheme == "https" {
		tlsCfg := &vault.TLSConfig{Insecure: cfg.Insecure}
		if cfg.RootCA != "" {
			tlsCfg.CACertBytes = []byte(cfg.RootCA)
		}
		if err := vaultCfg.ConfigureTLS(tlsCfg); err != nil {
			return nil, err
		}
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	return &Vault{cfg: cfg, client: client, log: logger.With().Str("component", "vault").Logger()}, nil
}

func (v *Vault) login(ctx context.Context) error {
	if v.cfg.RoleID != "" {
		auth, err := approle.NewAppRoleAuth(v.cfg.RoleID, &approle.SecretID{FromString: v.cfg.SecretID})
		if err != nil {
			return fmt.Errorf("approle auth: %w", err)
		}
		info, err := v.client.Auth().Login(ctx, auth)
		if err != nil {
			return fmt.Errorf("vault login: %w", err)
		}
		if info == nil {
			return fmt.Errorf("vault login returned no auth info")
		}
		return nil
	}
	if v.cfg.Token == "" {
		return fmt.Errorf("vault: no token and no approle configured")
	}
	v.client.SetToken(v.cfg.Token)
	return nil
}

func (v *Vault) FetchSecurityDirectives(ctx context.Context, bsd *directive.BlockStorageDirective) ([]directive.KafkaSecurityDirective, error) {
	if err := v.login(ctx); err != nil {
		return nil, err
	}

	secs := make([]directive.KafkaSecurityDirective, 0, len(bsd.TopicDirectives))
	for _, td := range bsd.TopicDirectives {
		sec, err := v.fetchOne(ctx, td)
		if err != nil {
			return nil, err
		}
		secs = append(secs, sec)
	}
	return secs, nil
}

func (v *Vault) fetchOne(ctx context.Context, td directive.TopicDirective) (directive.KafkaSecurityDirective, error) {
	p := path.Join(v.cfg.MountPath, "data", "tests", td.Topic, string(td.Role))
	secret, err := v.client.Logical().ReadWithContext(ctx, p)
	if err != nil {
		return directive.KafkaSecurityDirective{}, fmt.Errorf("read %s: %w", p, err)
	}
	if secret == nil || secret.Data == nil {
		return directive.KafkaSecurityDirective{}, fmt.Errorf("no security material at %s", p)
	}

	// KV v2 nests the payload under "data"
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		data = secret.Data
	}
	protocol := directive.ProtocolPlaintext
	if s, ok := data["protocol"].(string); ok {
		protocol = directive.Protocol(s)
	}
	if !protocol.Valid() {
		return directive.KafkaSecurityDirective{}, fmt.Errorf("invalid protocol %q at %s", protocol, p)
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return directive.KafkaSecurityDirective{}, err
	}

	v.log.Debug().Str("topic", td.Topic).Str("role", string(td.Role)).Msg("security directive resolved")
	return directive.KafkaSecurityDirective{
		Topic:          td.Topic,
		Role:           td.Role,
		Protocol:       protocol,
		CredentialBlob: blob,
	}, nil
}
