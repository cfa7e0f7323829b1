// Package connector implements source connectors that page entities out of
// the ERP, over its REST API or from flat-file exports.
package connector

import (
	"fmt"

	"github.com/erp/crmsync/internal/domain/integration"
	"github.com/erp/crmsync/internal/infrastructure/config"
	"go.uber.org/zap"
)

// New builds the connector selected by configuration
func New(cfg config.ConnectorConfig, source string, maxRetries int, logger *zap.Logger) (integration.SourceConnector, error) {
	switch cfg.Kind {
	case config.ConnectorHTTP:
		return NewHTTPConnector(HTTPConfig{
			Source:       source,
			BaseURL:      cfg.BaseURL,
			Token:        cfg.Token,
			PageSize:     cfg.PageSize,
			RateLimitRPS: cfg.RateLimitRPS,
			Burst:        cfg.Burst,
			Timeout:      cfg.Timeout,
			MaxRetries:   maxRetries,
		}, logger)
	case config.ConnectorCSV:
		return NewCSVConnector(CSVConfig{
			Source:   source,
			Dir:      cfg.CSVDir,
			PageSize: cfg.PageSize,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported connector kind %q", cfg.Kind)
	}
}
