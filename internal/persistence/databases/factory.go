package databases

import (
	"context"
	"fmt"

	"modelgate/internal/config"
)

// NewManager constructs the database backends named in configuration.
// Supported vector backends: memory, postgres (pgvector), qdrant.
// Supported chat backends: memory, postgres.
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager

	vectorDSN := firstNonEmpty(cfg.Vector.DSN, cfg.DefaultDSN)
	switch cfg.Vector.Backend {
	case "", "memory":
		m.Vector = NewMemoryVector()
	case "postgres", "pgvector", "pg":
		if vectorDSN == "" {
			return Manager{}, fmt.Errorf("vector backend postgres requires a DSN")
		}
		pool, err := OpenPool(ctx, vectorDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (vector): %w", err)
		}
		m.Vector = NewPostgresVector(pool, cfg.Vector.Dimensions, cfg.Vector.Metric)
	case "qdrant":
		if vectorDSN == "" {
			return Manager{}, fmt.Errorf("vector backend qdrant requires a DSN")
		}
		vs, err := NewQdrantVector(vectorDSN, cfg.Vector.QdrantCollection, cfg.Vector.Dimensions, cfg.Vector.Metric)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant (vector): %w", err)
		}
		m.Vector = vs
	default:
		return Manager{}, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	chatDSN := firstNonEmpty(cfg.Chat.DSN, cfg.DefaultDSN)
	switch cfg.Chat.Backend {
	case "", "memory":
		m.Chat = NewMemoryChatStore()
	case "postgres", "pg":
		if chatDSN == "" {
			return Manager{}, fmt.Errorf("chat backend postgres requires a DSN")
		}
		pool, err := OpenPool(ctx, chatDSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (chat): %w", err)
		}
		m.Chat = NewPostgresChatStore(pool)
	default:
		return Manager{}, fmt.Errorf("unsupported chat backend: %s", cfg.Chat.Backend)
	}
	if err := m.Chat.Init(ctx); err != nil {
		return Manager{}, fmt.Errorf("init chat store: %w", err)
	}

	return m, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
