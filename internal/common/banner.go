package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Folio", GetVersion())

	logger.Info().
		Str("version", GetVersion()).
		Str("environment", config.Environment).
		Str("badger_path", config.Storage.Badger.Path).
		Str("artifacts_dir", config.Storage.Artifacts.Dir).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Int("concurrency", config.Queue.Concurrency).
		Bool("api_enabled", config.Server.Enabled).
		Bool("pdf_enabled", config.PDF.Enabled).
		Msg("Folio starting")
}
