package main

import (
	"os"
	"strings"
	"sync"

	"github.com/MimeLyc/webp-autogen/internal/config"
	"github.com/MimeLyc/webp-autogen/internal/i18n"
	"github.com/MimeLyc/webp-autogen/internal/imaging"
	"github.com/MimeLyc/webp-autogen/internal/persistence"
	"github.com/MimeLyc/webp-autogen/internal/service"
	"github.com/MimeLyc/webp-autogen/pkg/file"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
	}
}

// ensureConfig loads .env, the optional config file and the environment once,
// then sets up logging.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		_ = godotenv.Load()

		var opts []config.Option
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			opts = append(opts, config.WithFile(strings.TrimSpace(*c.configFlag)))
		}
		cfg, err := config.NewFromEnv(opts...)
		if err != nil {
			c.configErr = err
			return
		}
		setupLogging(cfg.System)
		c.config = cfg
	})
	return c.config, c.configErr
}

func setupLogging(sys config.SystemConfig) {
	level := log.ParseLevel(sys.LogLevel)
	if sys.LogFile == "" {
		log.InitLogger(level)
		return
	}
	fileLogger, err := log.NewFileLogger(sys.LogFile, level)
	if err != nil {
		log.InitLogger(level)
		log.Warn("Logging to stdout: %v", err)
		return
	}
	log.SetLogger(fileLogger.Logger)
}

func (c *commandContext) openSettings() (*config.RuntimeSettingsStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return config.OpenRuntimeSettingsStore(cfg.System.SettingsFile, config.RuntimeSettings{Quality: cfg.Convert.DefaultQuality})
}

// newLocalService builds an in-process service. The run store is only
// attached when the database already exists.
func (c *commandContext) newLocalService() (*service.Service, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	settings, err := c.openSettings()
	if err != nil {
		return nil, nil, err
	}
	current, err := settings.GetRuntimeSettings()
	if err != nil {
		return nil, nil, err
	}
	encoder, err := imaging.NewEncoder(cfg.Convert.Encoder, cfg.Convert.CwebpPath)
	if err != nil {
		return nil, nil, service.WrapError(err, service.ErrConfig, "create encoder")
	}

	opts := []service.Option{}
	cleanup := func() {}
	if file.Exists(cfg.DBPath()) {
		store, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			log.Warn("Batch runs will not be recorded: %v", err)
		} else {
			opts = append(opts, service.WithRunStore(store))
			cleanup = func() { _ = store.Close() }
		}
	}
	return service.New(*cfg, current, encoder, opts...), cleanup, nil
}

// envLanguage maps LANG/LC_ALL style values ("de_DE.UTF-8") to a supported tag.
func envLanguage() language.Tag {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		if i := strings.IndexAny(value, ".@"); i >= 0 {
			value = value[:i]
		}
		return i18n.Match(strings.ReplaceAll(value, "_", "-"))
	}
	return language.English
}
