package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/docbroker/internal/broker"
	"github.com/local/docbroker/internal/cache"
	"github.com/local/docbroker/internal/config"
	"github.com/local/docbroker/internal/handler/imagemagick"
	"github.com/local/docbroker/internal/handler/ooo"
	"github.com/local/docbroker/internal/handler/x2t"
	"github.com/local/docbroker/internal/limiter"
	"github.com/local/docbroker/internal/mimemap"
	"github.com/local/docbroker/internal/office"
	"github.com/local/docbroker/internal/procexec"
	"github.com/local/docbroker/internal/statuscheck"
	"github.com/local/docbroker/internal/storage"
)

// runtime holds everything a command needs and owns their shutdown.
type runtime struct {
	broker  *broker.Broker
	process *office.Process
	results *cache.Results
	storage *storage.S3
	health  *statuscheck.Checker
}

func newRuntime(ctx context.Context, cfg config.Config, withCache bool) (*runtime, error) {
	runner := procexec.NewExecRunner()
	table := mimemap.Default()

	process := office.NewProcess(office.Options{
		Binary:       cfg.Office.SofficeBinary,
		Host:         cfg.Office.Host,
		Port:         cfg.Office.Port,
		ProfileDir:   cfg.Office.ProfileDir,
		StartTimeout: cfg.Office.StartTimeout,
		Display:      office.NewDisplay(cfg.Display.Enabled, cfg.Display.Binary, cfg.Display.Number),
	})

	officeFactory := &ooo.Factory{
		Bridge: &ooo.Bridge{
			Session:          process,
			Runner:           runner,
			Python:           cfg.Office.PythonBinary,
			Helper:           cfg.Office.HelperPath,
			UnoPath:          cfg.Office.UnoPath,
			OfficeBinaryPath: cfg.Office.OfficeBinaryPath,
			Timeout:          cfg.Office.Timeout,
		},
		Table:   table,
		BaseDir: cfg.Work.BaseDir,
		Zip:     cfg.Office.Zip,
	}

	x2tFactory := &x2t.Factory{
		Binary:  cfg.X2T.Binary,
		Env:     cfg.X2T.Env,
		BaseDir: cfg.Work.BaseDir,
		Runner:  runner,
		Primary: func(data []byte, format string) (x2t.Primary, error) {
			h, err := officeFactory.New(data, format)
			if err != nil {
				return nil, err
			}
			return h, nil
		},
		PrimaryFormats:    officeFactory.AllowedConversionFormatList,
		PrimaryCanConvert: officeFactory.CanConvert,
	}

	imageFactory := &imagemagick.Factory{
		ConvertBinary:  cfg.ImageMagick.ConvertBinary,
		IdentifyBinary: cfg.ImageMagick.IdentifyBinary,
		BaseDir:        cfg.Work.BaseDir,
		Timeout:        cfg.ImageMagick.Timeout,
		Runner:         runner,
	}

	rt := &runtime{process: process}
	opts := []broker.Option{
		broker.WithBackend(broker.BackendOffice, officeFactory),
		broker.WithBackend(broker.BackendX2T, x2tFactory),
		broker.WithBackend(broker.BackendImage, imageFactory),
		broker.WithLimiter(limiter.New(cfg.Server.MaxInflight)),
	}

	if withCache && cfg.Cache.RedisURL != "" {
		results, err := cache.NewResults(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			// the cache is an optimisation; run without it
			log.Warn().Err(err).Msg("result cache unavailable")
		} else {
			rt.results = results
			opts = append(opts, broker.WithCache(results))
		}
	}

	if storageConfigured(cfg.Storage) {
		s3, err := storage.NewS3(ctx, storageOptions(cfg.Storage))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("init object storage: %w", err)
		}
		rt.storage = s3
	}

	rt.broker = broker.New(table, opts...)

	checkOpts := statuscheck.Options{
		Session:        process,
		X2TBinary:      cfg.X2T.Binary,
		ConvertBinary:  cfg.ImageMagick.ConvertBinary,
		IdentifyBinary: cfg.ImageMagick.IdentifyBinary,
	}
	if rt.results != nil {
		checkOpts.Cache = rt.results
	}
	rt.health = statuscheck.New(checkOpts)
	return rt, nil
}

// objectStorage returns the configured storage, or creates one from the
// default AWS chain the first time an s3:// reference is used.
func (rt *runtime) objectStorage(ctx context.Context, cfg config.Config) (*storage.S3, error) {
	if rt.storage != nil {
		return rt.storage, nil
	}
	s3, err := storage.NewS3(ctx, storageOptions(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	rt.storage = s3
	return s3, nil
}

// Close stops the office process and releases connections.
func (rt *runtime) Close() {
	if rt.process != nil {
		rt.process.Stop()
	}
	if rt.results != nil {
		if err := rt.results.Close(); err != nil {
			log.Warn().Err(err).Msg("close result cache")
		}
	}
}

func storageConfigured(s config.StorageConfig) bool {
	return s.Region != "" || s.Endpoint != "" || s.AccessKeyID != ""
}

func storageOptions(s config.StorageConfig) storage.Options {
	return storage.Options{
		Region:          s.Region,
		Endpoint:        s.Endpoint,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
	}
}
