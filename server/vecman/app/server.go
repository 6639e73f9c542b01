package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	commonlog "vec_server/server/common/log"
	vecapi "vec_server/server/vecman/api"
	"vec_server/server/vecman/service"
)

type Server struct {
	HTTPServer *http.Server
	store      service.VectorStore
}

// NewServer builds the embedder and vector store, bootstraps the collection
// and its payload indexes, and wires the HTTP layer. Store connectivity is
// retried with a fixed delay; running out of attempts is fatal.
func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ConnectMaxRetries)*(cfg.ConnectRetryDelay+10*time.Second))
	defer cancel()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg, embedder.Size())
	if err != nil {
		return nil, err
	}

	if err := store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	store.EnsureIndexes(ctx, cfg.MetadataIndexKeys)

	contentSvc := service.NewContentService(store, embedder)

	var parser *service.EmailParserService
	if cfg.OpenAIAPIKey != "" {
		parser, err = service.NewEmailParserService(cfg.OpenAIAPIKey, cfg.EmailParserModel)
		if err != nil {
			return nil, fmt.Errorf("initialize email parser: %w", err)
		}
	} else {
		commonlog.Warnf("OPENAI_API_KEY not set, email parsing is disabled")
	}

	h := vecapi.NewHandler(contentSvc, parser)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{HTTPServer: httpServer, store: store}, nil
}

func newEmbedder(ctx context.Context, cfg Config) (service.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "openai":
		embedder := service.NewOpenAIEmbedder(cfg.EmbedderEndpoint, cfg.EmbedderAPIKey, cfg.EmbedderModel)
		// The model must be reachable before the service accepts requests.
		if _, err := embedder.Embed(ctx, "startup probe"); err != nil {
			return nil, fmt.Errorf("embedding model unavailable: %w", err)
		}
		return embedder, nil
	case "local":
		return service.NewLocalEmbedder(), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.EmbedderProvider)
	}
}

func newVectorStore(ctx context.Context, cfg Config, vectorSize int) (service.VectorStore, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		store := service.NewQdrantService(cfg.QdrantEndpoint, cfg.QdrantAPIKey, cfg.Collection, vectorSize)
		if err := store.Connect(ctx, cfg.ConnectMaxRetries, cfg.ConnectRetryDelay); err != nil {
			return nil, err
		}
		return store, nil
	case "pgvector":
		store := service.NewPgVectorService(cfg.PostgresDSN, cfg.Collection, vectorSize)
		if err := store.Connect(ctx, cfg.ConnectMaxRetries, cfg.ConnectRetryDelay); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if closer, ok := s.store.(io.Closer); ok {
		_ = closer.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
