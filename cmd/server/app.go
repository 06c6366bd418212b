package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"wa-gateway-lite/internal/authstate"
	"wa-gateway-lite/internal/blob"
	"wa-gateway-lite/internal/config"
	"wa-gateway-lite/internal/kv"
	"wa-gateway-lite/internal/logging"
	"wa-gateway-lite/internal/secrets"
	"wa-gateway-lite/internal/store"
)

// backends holds the storage collaborators selected by configuration.
type backends struct {
	repoSessions store.SessionRepository
	repoMessages store.MessageRepository
	hot          kv.Store
	snapshots    authstate.SnapshotStore
	uploader     blob.Uploader

	closers []func() error
}

func (b *backends) Close(logger zerolog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn().Err(err).Msg("close backend")
		}
	}
}

func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger := logging.New(logging.ProfileRuntime, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}, os.Stderr)
	return cfg, logger, nil
}

// awsLazy loads the default AWS configuration on first use only, so local
// deployments never touch the credential chain.
type awsLazy struct {
	cfg    aws.Config
	loaded bool
}

func (a *awsLazy) get(ctx context.Context) (aws.Config, error) {
	if a.loaded {
		return a.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	a.cfg, a.loaded = cfg, true
	return cfg, nil
}

func resolveMasterSecret(ctx context.Context, cfg config.Config, awsCfg *awsLazy) (string, error) {
	if cfg.MasterSecret != "" {
		return cfg.MasterSecret, nil
	}
	ac, err := awsCfg.get(ctx)
	if err != nil {
		return "", err
	}
	ps, err := secrets.NewParamStore(ssm.NewFromConfig(ac))
	if err != nil {
		return "", err
	}
	return secrets.MasterSecret(ctx, ps, cfg.MasterSecret, cfg.MasterSecretParam)
}

func openBackends(ctx context.Context, cfg config.Config, logger zerolog.Logger, awsCfg *awsLazy) (*backends, error) {
	b := &backends{}
	fail := func(err error) (*backends, error) {
		b.Close(logger)
		return nil, err
	}

	switch cfg.RepositoryBackend {
	case "postgres":
		g, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, g.Close)
		if err := g.Migrate(ctx); err != nil {
			return fail(err)
		}
		b.repoSessions, b.repoMessages = g.Sessions(), g.Messages()
	default:
		mem, err := store.NewMemoryWithOptions(store.Options{StateFile: cfg.SessionsStateFile, Logger: logger})
		if err != nil {
			return fail(err)
		}
		b.repoSessions, b.repoMessages = mem.Sessions(), mem.Messages()
	}

	switch cfg.HotStoreBackend {
	case "redis":
		r, err := kv.DialRedis(ctx, kv.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, r.Close)
		b.hot = r
	default:
		b.hot = kv.NewMemory()
	}

	switch cfg.SnapshotBackend {
	case "dynamodb":
		ac, err := awsCfg.get(ctx)
		if err != nil {
			return fail(err)
		}
		d, err := authstate.NewDynamoSnapshots(dynamodb.NewFromConfig(ac), cfg.SnapshotTable)
		if err != nil {
			return fail(err)
		}
		b.snapshots = d
	default:
		s, err := authstate.NewSQLiteSnapshots(cfg.SnapshotSQLitePath)
		if err != nil {
			return fail(err)
		}
		b.closers = append(b.closers, s.Close)
		b.snapshots = s
	}

	switch cfg.BlobBackend {
	case "s3":
		ac, err := awsCfg.get(ctx)
		if err != nil {
			return fail(err)
		}
		u, err := blob.NewS3(s3.NewFromConfig(ac), cfg.BlobBucket, cfg.BlobBaseURL)
		if err != nil {
			return fail(err)
		}
		b.uploader = u
	default:
		u, err := blob.NewFS(cfg.BlobDir, cfg.BlobBaseURL)
		if err != nil {
			return fail(err)
		}
		b.uploader = u
	}

	return b, nil
}

// localMediaRoute returns the route that serves filesystem blobs, or "" when
// blobs are addressed by an absolute URL.
func localMediaRoute(cfg config.Config) string {
	if cfg.BlobBackend != "fs" || !strings.HasPrefix(cfg.BlobBaseURL, "/") {
		return ""
	}
	return cfg.BlobBaseURL
}
