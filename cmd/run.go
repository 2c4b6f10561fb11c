package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/sr"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/internal/version"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/codec"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/dsl"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/registry"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/secrets"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage"
)

type runParams struct {
	configFile string
	addr       string
	logLevel   string

	s3Region   string
	s3Endpoint string
	workDir    string

	vaultURL       string
	vaultToken     string
	vaultRoleID    string
	vaultSecretID  string
	vaultMountPath string
}

func initRun() *cobra.Command {
	params := runParams{}
	c := &cobra.Command{
		Use:   "run",
		Short: `Start the probe service`,
		Long:  `Start the REST surface and serve test initialize/start/status/delete requests.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return runService(params)
		},
	}
	c.Flags().StringVarP(&params.configFile, "config-file", "c", "", "set path of configuration file")
	c.Flags().StringVarP(&params.addr, "addr", "a", ":8282", "set listening address of the probe server")
	c.Flags().StringVarP(&params.logLevel, "log-level", "l", "info", "set log level (debug, info, warn, error)")
	c.Flags().StringVar(&params.s3Region, "s3-region", "us-east-1", "set object storage region")
	c.Flags().StringVar(&params.s3Endpoint, "s3-endpoint", "", "override object storage endpoint (minio, localstack)")
	c.Flags().StringVar(&params.workDir, "work-dir", "", "set bundle working directory (default OS temp)")
	c.Flags().StringVar(&params.vaultURL, "vault-url", "", "set vault address; empty runs with PLAINTEXT security")
	c.Flags().StringVar(&params.vaultToken, "vault-token", os.Getenv("VAULT_TOKEN"), "set vault token")
	c.Flags().StringVar(&params.vaultRoleID, "vault-role-id", "", "set vault approle role id")
	c.Flags().StringVar(&params.vaultSecretID, "vault-secret-id", "", "set vault approle secret id")
	c.Flags().StringVar(&params.vaultMountPath, "vault-mount-path", "secret", "set vault KV v2 mount path")
	return c
}

func runService(params runParams) error {
	logger, err := newLogger(params.logLevel)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if params.configFile != "" {
		cfg, err = config.FromFile(params.configFile)
		if err != nil {
			return err
		}
	}
	vr := cfg.Validate()
	for _, w := range vr.Warnings {
		logger.Warn().Msg(w)
	}
	if !vr.Valid() {
		return vr.Err()
	}

	srClient, err := sr.NewClient(sr.URLs(cfg.Kafka.SchemaRegistryURL))
	if err != nil {
		return fmt.Errorf("schema registry client: %w", err)
	}
	cdc := codec.New(srClient, codec.Options{
		AutoRegister: cfg.Kafka.SchemaAutoRegister,
		MaxRetries:   cfg.MaxRetries,
		Logger:       logger,
	})

	store, err := storage.NewS3(storage.S3Config{
		Region:   params.s3Region,
		Endpoint: params.s3Endpoint,
		WorkDir:  params.workDir,
	}, logger)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}

	var vault secrets.Functions = secrets.Static{}
	if params.vaultURL != "" {
		vault, err = secrets.NewVault(secrets.VaultConfig{
			URL:       params.vaultURL,
			Token:     params.vaultToken,
			RoleID:    params.vaultRoleID,
			SecretID:  params.vaultSecretID,
			MountPath: params.vaultMountPath,
		}, logger)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
	}

	facade := dsl.New(cfg.DSL.AskTimeout.Std(), logger)
	factory := registry.NewEngineFactory(registry.Collaborators{
		Config:   cfg,
		Codec:    cdc,
		Facade:   facade,
		Storage:  store,
		Vault:    vault,
		Runner:   scenario.Steps{},
		ClientID: version.UserAgent(),
	}, logger)
	reg := registry.New(factory, logger)

	server := &http.Server{
		Addr:    params.addr,
		Handler: registry.Handler(reg, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", params.addr).Str("version", version.Version).Msg("probe server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// drain live engines before closing the listener; force-close once the
	// shutdown timeout is up
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	reg.Shutdown(ctx)
	return server.Shutdown(ctx)
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
}
