package stream

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

// credentials is the decoded form of a security directive's opaque blob.
// Everything is PEM/plain text so directives can travel through vault and
// YAML unharmed.
type credentials struct {
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
	Mechanism          string `json:"mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	TLSCACert          string `json:"tls_ca_cert,omitempty"`
	TLSClientCert      string `json:"tls_client_cert,omitempty"`
	TLSClientKey       string `json:"tls_client_key,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// securityOpts turns a security directive into kgo client options.
func securityOpts(sec directive.KafkaSecurityDirective) ([]kgo.Opt, error) {
	if sec.Protocol == "" || sec.Protocol == directive.ProtocolPlaintext {
		return nil, nil
	}
	if !sec.Protocol.Valid() {
		return nil, fmt.Errorf("unknown security protocol %q", sec.Protocol)
	}

	var creds credentials
	if len(sec.CredentialBlob) > 0 {
		if err := json.Unmarshal(sec.CredentialBlob, &creds); err != nil {
			return nil, fmt.Errorf("decode credential blob for topic %q: %w", sec.Topic, err)
		}
	}

	var opts []kgo.Opt
	if sec.Protocol == directive.ProtocolSSL || sec.Protocol == directive.ProtocolSASLSSL {
		tc, err := tlsConfig(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tc))
	}
	if sec.Protocol == directive.ProtocolSASLPlaintext || sec.Protocol == directive.ProtocolSASLSSL {
		mech, err := saslMechanism(creds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	}
	return opts, nil
}

func tlsConfig(creds credentials) (*tls.Config, error) {
	tc := &tls.Config{InsecureSkipVerify: creds.InsecureSkipVerify}
	if creds.TLSCACert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(creds.TLSCACert)) {
			return nil, fmt.Errorf("invalid CA certificate PEM")
		}
		tc.RootCAs = pool
	}
	if creds.TLSClientCert != "" || creds.TLSClientKey != "" {
		cert, err := tls.X509KeyPair([]byte(creds.TLSClientCert), []byte(creds.TLSClientKey))
		if err != nil {
			return nil, fmt.Errorf("client key pair: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}

func saslMechanism(creds credentials) (sasl.Mechanism, error) {
	switch strings.ToUpper(creds.Mechanism) {
	case "", "PLAIN":
		return plain.Auth{User: creds.Username, Pass: creds.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: creds.Username, Pass: creds.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: creds.Username, Pass: creds.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", creds.Mechanism)
	}
}
