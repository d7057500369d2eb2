package remote

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/config"
	"github.com/ashton/loopchat/internal/persist"
	"github.com/ashton/loopchat/internal/remote/httpapi"
	"github.com/ashton/loopchat/internal/remote/mock"
)

// New returns the collaborator selected by cfg.Mode. In mock mode the demo
// data set is kept in storage when storage is non-nil.
func New(cfg *config.Config, storage persist.Storage, logger *zap.Logger) (API, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Remote.Mode {
	case config.ModeHTTP:
		return httpapi.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.GetTimeout(),
			httpapi.WithLogger(logger.Named("http"))), nil
	case config.ModeMock:
		opts := []mock.Option{mock.WithLogger(logger.Named("mock"))}
		if storage != nil {
			opts = append(opts, mock.WithStorage(storage))
		}
		return mock.New(opts...), nil
	default:
		return nil, fmt.Errorf("invalid remote mode: %q", cfg.Remote.Mode)
	}
}
