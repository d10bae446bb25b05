package main

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-admin/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-admin/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-admin/internal/settings"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// settingsBackend is the opened settings source plus whatever must be
// released at shutdown.
type settingsBackend struct {
	source settings.Source
	// digest reports the loaded document hash for backends that have one
	digest func() string
	close  func()
}

// devSettings seeds the static backend when no settings file is given.
func devSettings() *settings.Static {
	return settings.NewStatic(map[string]map[string]string{
		ratelimit.SettingsCategory: {
			ratelimit.KeyEnabled:       "true",
			ratelimit.KeyMaxPerMinute:  "60",
			ratelimit.KeyMaxPerHour:    "1000",
			ratelimit.KeyBlockDuration: "15",
		},
	})
}

// loadAWS is only called for backends that talk to AWS.
type awsLoader func(ctx context.Context) (aws.Config, error)

func openSettings(ctx context.Context, L log.Logger, conf cfg.App, loadAWS awsLoader) (*settingsBackend, error) {
	b := &settingsBackend{close: func() {}}

	switch conf.SettingsBackend {
	case cfg.BackendStatic:
		if conf.SettingsFile == "" {
			L.Warn(ctx, "no settings file, using built-in development settings")
			b.source = devSettings()
			return b, nil
		}
		src, err := settings.LoadStaticFile(conf.SettingsFile)
		if err != nil {
			return nil, err
		}
		b.source = src

	case cfg.BackendSSM:
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		b.source = settings.NewSSM(ssm.NewFromConfig(awsCfg), conf.SSMPrefix)

	case cfg.BackendS3:
		awsCfg, err := loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		opts := settings.S3DocumentOptions{
			Bucket: conf.SettingsS3Bucket,
			Key:    conf.SettingsS3Key,
			MaxAge: conf.ConfigTTL,
		}
		if conf.SettingsSigningKeyARN != "" {
			opts.Verifier = cryptoutil.NewKMSVerifier(kms.NewFromConfig(awsCfg), conf.SettingsSigningKeyARN)
		} else {
			L.Warn(ctx, "settings document signature verification disabled",
				"bucket", conf.SettingsS3Bucket,
				"key", conf.SettingsS3Key,
			)
		}
		doc, err := settings.NewS3Document(s3.NewFromConfig(awsCfg), opts)
		if err != nil {
			return nil, err
		}
		b.source = doc
		b.digest = doc.Digest

	case cfg.BackendPostgres:
		pool, err := settings.OpenPool(ctx, conf.DatabaseDSN, 10*time.Second)
		if err != nil {
			return nil, err
		}
		b.source = settings.NewPostgres(pool)
		b.close = pool.Close

	default:
		return nil, xerrors.Newf("unknown settings backend %q", conf.SettingsBackend)
	}
	return b, nil
}
