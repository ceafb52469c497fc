// Package bootstrap builds the services selected by the configuration.
package bootstrap

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"

	"rag-apps/internal/agent"
	"rag-apps/internal/apperr"
	"rag-apps/internal/chunker"
	"rag-apps/internal/classifier"
	"rag-apps/internal/config"
	"rag-apps/internal/copywriter"
	"rag-apps/internal/db"
	"rag-apps/internal/embedding"
	"rag-apps/internal/helper"
	"rag-apps/internal/llmservice"
	"rag-apps/internal/parser"
	"rag-apps/internal/rag"
	"rag-apps/internal/server"
	"rag-apps/internal/vectorstore"
	"rag-apps/internal/vectorstore/chromemdb"
	"rag-apps/internal/vectorstore/pgvector"
	"rag-apps/internal/vectorstore/qdrant"
)

type Container struct {
	Config    *config.Config
	Policy    helper.RetryPolicy
	Embedder  embedding.Embedder
	Generator llmservice.Generator
	Store     vectorstore.Store
	Pipeline  *rag.Pipeline
	Loader    *parser.Loader
	Sitemap   *parser.SitemapLoader
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	policy := helper.PolicyFrom(cfg.Retry)

	embedder, err := embedding.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := llmservice.NewGenerator(cfg)
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.NewFromConfig(cfg.RAG)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg, policy)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:    cfg,
		Policy:    policy,
		Embedder:  embedder,
		Generator: gen,
		Store:     store,
		Pipeline:  rag.New(splitter, embedder, store, gen, cfg.RAG),
		Loader:    parser.NewLoader(cfg.Loader),
		Sitemap:   parser.NewSitemapLoader(cfg.Loader, policy),
	}, nil
}

// OpenStore connects the vector store named by vector_store.type.
func OpenStore(ctx context.Context, cfg *config.Config, policy helper.RetryPolicy) (vectorstore.Store, error) {
	vc := cfg.VectorStore
	log.Debug().Str("type", vc.Type).Msg("Opening vector store")
	switch vc.Type {
	case "chromem", "":
		if !vc.Chromem.InMemory {
			if err := helper.CreateFolder(vc.Chromem.Path); err != nil {
				return nil, apperr.Wrap(apperr.KindIndexUnavailable, "bootstrap.OpenStore", err)
			}
		}
		return chromemdb.NewVectorDBManager(vc.Chromem)
	case "qdrant":
		return qdrant.NewStorage(vc.Qdrant, policy), nil
	case "pgvector":
		bdb, err := db.Open(ctx, cfg.Database, policy)
		if err != nil {
			return nil, err
		}
		store := pgvector.New(bdb, policy)
		if err := store.InitDB(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	}
	return nil, apperr.New(apperr.KindInputInvalid, "bootstrap.OpenStore", "unsupported vector store %q", vc.Type)
}

// QuestionStore opens the question database and creates its table. The
// caller closes the returned store's database.
func (c *Container) QuestionStore(ctx context.Context) (*db.QuestionStore, func() error, error) {
	bdb, err := db.Open(ctx, c.Config.Database, c.Policy)
	if err != nil {
		return nil, nil, err
	}
	qs := db.NewQuestionStore(bdb, c.Policy)
	if err := qs.InitDB(ctx); err != nil {
		_ = bdb.Close()
		return nil, nil, err
	}
	return qs, bdb.Close, nil
}

// Router loads the trained ticket model. Without one the router rejects
// submissions until `tickets train` has run.
func (c *Container) Router() *classifier.Router {
	model, err := classifier.Load(c.Config.Classifier.ModelPath)
	switch {
	case err == nil:
		if model.EmbeddingModel != c.Embedder.Model() {
			log.Warn().Str("trained_with", model.EmbeddingModel).Str("embedder", c.Embedder.Model()).
				Msg("Classifier was trained with a different embedding model")
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", c.Config.Classifier.ModelPath).Msg("No trained classifier found")
	default:
		log.Error().Err(err).Msg("Failed to load classifier")
	}
	return classifier.NewRouter(model, c.Embedder)
}

func (c *Container) TableAgent() *agent.TableAgent {
	return agent.NewTableAgent(agent.NewLLMDelegate(c.Generator), c.Config.Agent.MaxRows)
}

func (c *Container) ServerDeps() server.Deps {
	return server.Deps{
		Pipeline:  c.Pipeline,
		Router:    c.Router(),
		Agent:     c.TableAgent(),
		Writer:    copywriter.New(c.Generator),
		Generator: c.Generator,
	}
}

func (c *Container) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
