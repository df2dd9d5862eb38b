package qdrant

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/plugin/embed/cached"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

const (
	payloadKey  = "key"
	payloadText = "text"
)

// pointNamespace derives stable point ids from record keys, so re-putting a
// key replaces the same point.
var pointNamespace = uuid.MustParse("6f1f6b4e-3c55-4d7a-9d0e-6a3c1f3b8c21")

// qdrantMigrator pre-creates the sentinel and consolidated collections.
type qdrantMigrator struct{}

func (m *qdrantMigrator) Name() string { return "qdrant" }
func (m *qdrantMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || (cfg.MemoryType != "qdrant" && cfg.EffectiveTargetMemoryType() != "qdrant") {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	migrateCtx, cancel := context.WithTimeout(ctx, cfg.QdrantStartupTimeout)
	defer cancel()

	store, err := open(migrateCtx, cfg)
	if err != nil {
		return fmt.Errorf("qdrant migrate: %w", err)
	}
	defer store.Close()

	for _, index := range []string{cfg.SentinelIndex, cfg.ConsolidatedIndex} {
		if err := store.ensureCollection(migrateCtx, index); err != nil {
			return fmt.Errorf("qdrant migrate: %w", err)
		}
	}
	return nil
}

func init() {
	registrymemory.Register(registrymemory.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &qdrantMigrator{}})
}

func load(ctx context.Context) (registrymemory.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("qdrant memory: missing config in context")
	}
	return open(ctx, cfg)
}

func open(ctx context.Context, cfg *config.Config) (*QdrantStore, error) {
	embedder, err := cached.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("qdrant memory: %w", err)
	}
	if embedder.Dimension() <= 0 {
		return nil, fmt.Errorf("qdrant memory: embedder %q has no fixed dimension", embedder.ModelName())
	}
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant memory: connect: %w", err)
	}
	pageSize := cfg.QdrantPageSize
	if pageSize <= 0 {
		pageSize = 256
	}
	return &QdrantStore{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		embedder:    embedder,
		prefix:      strings.TrimSpace(cfg.QdrantCollectionPrefix),
		pageSize:    pageSize,
	}, nil
}

// QdrantStore maps each memory index onto a Qdrant collection.
type QdrantStore struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	embedder    registryembed.Embedder
	prefix      string
	pageSize    int

	ensured sync.Map // collection name -> struct{}
}

func (s *QdrantStore) Name() string { return "qdrant" }

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error { return s.conn.Close() }

func (s *QdrantStore) Put(ctx context.Context, index, key, text string) error {
	if err := s.ensureCollection(ctx, index); err != nil {
		return err
	}
	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("qdrant memory: embed: %w", err)
	}
	wait := true
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collectionName(index),
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: pointID(key),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[0]},
				},
			},
			Payload: map[string]*pb.Value{
				payloadKey:  {Kind: &pb.Value_StringValue{StringValue: key}},
				payloadText: {Kind: &pb.Value_StringValue{StringValue: text}},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant memory: upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collectionName(index),
		Ids:            []*pb.PointId{pointID(key)},
		WithPayload:    withPayload(),
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("qdrant memory: get: %w", err)
	}
	for _, pt := range resp.GetResult() {
		rec := recordFromPayload(index, pt.GetPayload())
		rec.Relevance = 1
		return &rec, nil
	}
	return nil, nil
}

func (s *QdrantStore) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	if registrymemory.IsWildcard(query) {
		return s.scroll(ctx, index, limit, minScore)
	}
	return s.similar(ctx, index, query, limit, minScore)
}

// scroll pages through every point of the collection.
func (s *QdrantStore) scroll(ctx context.Context, index string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		if minScore > 1 {
			return
		}
		var offset *pb.PointId
		emitted := 0
		for {
			pageLimit := uint32(s.pageSize)
			resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
				CollectionName: s.collectionName(index),
				Offset:         offset,
				Limit:          &pageLimit,
				WithPayload:    withPayload(),
			})
			if isNotFound(err) {
				return
			}
			if err != nil {
				yield(registrymemory.Record{}, fmt.Errorf("qdrant memory: scroll: %w", err))
				return
			}
			for _, pt := range resp.GetResult() {
				rec := recordFromPayload(index, pt.GetPayload())
				rec.Relevance = 1
				if !yield(rec, nil) {
					return
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return
				}
			}
			offset = resp.GetNextPageOffset()
			if offset == nil || len(resp.GetResult()) == 0 {
				return
			}
		}
	}
}

// similar pages through nearest neighbours of the embedded query.
func (s *QdrantStore) similar(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
		if err != nil {
			yield(registrymemory.Record{}, fmt.Errorf("qdrant memory: embed: %w", err))
			return
		}
		var threshold *float32
		if minScore > registrymemory.AnyRelevance {
			t := float32(minScore)
			threshold = &t
		}
		emitted := 0
		for page := uint64(0); ; page++ {
			offset := page * uint64(s.pageSize)
			resp, err := s.points.Search(ctx, &pb.SearchPoints{
				CollectionName: s.collectionName(index),
				Vector:         vectors[0],
				Limit:          uint64(s.pageSize),
				Offset:         &offset,
				ScoreThreshold: threshold,
				WithPayload:    withPayload(),
			})
			if isNotFound(err) {
				return
			}
			if err != nil {
				yield(registrymemory.Record{}, fmt.Errorf("qdrant memory: search: %w", err))
				return
			}
			for _, pt := range resp.GetResult() {
				rec := recordFromPayload(index, pt.GetPayload())
				rec.Relevance = float64(pt.GetScore())
				if !yield(rec, nil) {
					return
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return
				}
			}
			if len(resp.GetResult()) < s.pageSize {
				return
			}
		}
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context, index string) error {
	name := s.collectionName(index)
	if _, ok := s.ensured.Load(name); ok {
		return nil
	}
	_, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		s.ensured.Store(name, struct{}{})
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("qdrant memory: get collection %s: %w", name, err)
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.embedder.Dimension()),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("qdrant memory: create collection %s: %w", name, err)
	}
	log.Info("Created Qdrant collection", "name", name)
	s.ensured.Store(name, struct{}{})
	return nil
}

func (s *QdrantStore) collectionName(index string) string {
	if s.prefix == "" {
		return index
	}
	return s.prefix + "_" + index
}

func pointID(key string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{
		Uuid: uuid.NewSHA1(pointNamespace, []byte(key)).String(),
	}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}

func recordFromPayload(index string, payload map[string]*pb.Value) registrymemory.Record {
	return registrymemory.Record{
		Index: index,
		Key:   payload[payloadKey].GetStringValue(),
		Text:  payload[payloadText].GetStringValue(),
	}
}

// isNotFound reports whether err means the collection (or point) does not exist.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.NotFound {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "doesn't exist")
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}

var _ registrymemory.MemoryStore = (*QdrantStore)(nil)
