package main

import (
	"context"
	"os"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/pkg/crm"
	"github.com/sells-group/leadgen-cli/pkg/draft"
	"github.com/sells-group/leadgen-cli/pkg/wiza"
)

// engineEnv holds the initialized store and pipeline used by the acquire
// and serve commands.
type engineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadgen.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, provider client, and optional collaborators,
// and builds the pipeline. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if cfg.Wiza.Key == "" {
		return nil, eris.New("wiza API key is required (LEADGEN_WIZA_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var wizaOpts []wiza.Option
	if cfg.Wiza.BaseURL != "" {
		wizaOpts = append(wizaOpts, wiza.WithBaseURL(cfg.Wiza.BaseURL))
	}
	adapter := pipeline.NewAdapter(wiza.NewClient(cfg.Wiza.Key, wizaOpts...), cfg.Wiza)

	var opts []pipeline.Option

	if cfg.Draft.Enabled {
		if cfg.Draft.Key == "" {
			_ = st.Close()
			return nil, eris.New("drafting enabled but no API key set (LEADGEN_DRAFT_KEY)")
		}
		opts = append(opts, pipeline.WithDrafter(draft.NewAnthropic(cfg.Draft.Key, draft.Config{
			Model:     cfg.Draft.Model,
			MaxTokens: int64(cfg.Draft.MaxTokens),
		})))
		zap.L().Info("message drafting enabled", zap.String("model", cfg.Draft.Model))
	}

	if cfg.Salesforce.ClientID != "" {
		exporter, err := initSalesforce()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		opts = append(opts, pipeline.WithExporter(exporter))
		zap.L().Info("salesforce export enabled")
	}

	p := pipeline.New(st, adapter, cfg.Batch, cfg.Gate, opts...)

	return &engineEnv{Store: st, Pipeline: p}, nil
}

func initSalesforce() (crm.Exporter, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return crm.NewSalesforce(sf, crm.WithRateLimit(cfg.Salesforce.RateRPS)), nil
}
