package app

import (
	"context"
	"fmt"

	"ebbinghaus/internal/config"
	"ebbinghaus/internal/phase"
	"ebbinghaus/internal/storage"
	logx "ebbinghaus/pkg/logx"
)

// LoadPhases reads the phase sequence from the store and validates it. An
// empty store is seeded from pc first when pc.SeedIfEmpty is set. Any
// phase.ErrConfig returned here is fatal for the process.
func LoadPhases(ctx context.Context, store storage.Store, pc config.PhasesConfig, log logx.Logger) (*phase.Table, error) {
	phases, err := store.LoadPhases(ctx)
	if err != nil {
		return nil, fmt.Errorf("load phases: %w", err)
	}
	if len(phases) == 0 && pc.SeedIfEmpty {
		seed, err := pc.List()
		if err != nil {
			return nil, err
		}
		if err := store.SeedPhases(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed phases: %w", err)
		}
		log.Info("phase table seeded", logx.Int("phases", len(seed)))
		phases = seed
	}
	table, err := phase.New(phases)
	if err != nil {
		return nil, err
	}
	log.Info("phase table loaded",
		logx.Int("first", table.First()),
		logx.Int("last", table.Last()),
		logx.Duration("total", table.Total()),
	)
	return table, nil
}

// OpenStore opens the configured store without building the rest of the app.
func OpenStore(ctx context.Context, cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(ctx, sc, log)
}
