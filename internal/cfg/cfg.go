package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
)

const (
	VectorBackendQdrant = "qdrant"
	VectorBackendMemory = "memory"
)

type Config struct {
	Minio     *MinIOCfg
	Http      *HTTPConfig
	Db        *PGDBCfg
	Qdrant    *QdrantCfg
	Redis     *RedisCfg
	Embedding *EmbeddingCfg
	Webhook   *WebhookCfg
	Queue     *QueueCfg
	Search    *SearchCfg
	Media     *MediaCfg
	Kafka     *KafkaCfg
}

type KafkaCfg struct {
	Topic             string // топик для задач, завершившихся с постоянной ошибкой
	Brokers           []string
	NetworkMode       string
	Partitions        int
	ReplicationFactor int
	OutboxBatchSize   int
	OutboxPoll        time.Duration
}

type MinIOCfg struct {
	MinioEndpoint     string // Адрес конечной точки Minio
	BucketName        string // Бакет с изображениями каталога
	MinioRootUser     string // Имя пользователя для доступа к Minio
	MinioRootPassword string // Пароль для доступа к Minio
	MinioUseSSL       bool
}

type HTTPConfig struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type PGDBCfg struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsURL string
}

type QdrantCfg struct {
	Backend              string // qdrant | memory
	Port                 int
	Host                 string
	ApiKey               string
	QdrantCollectionName string // имя коллекции в Qdrant
	UseTLS               bool
	VectorSize           uint64
	Distance             string // cosine | dot
	MaxRecvMsgSize       int
}

type RedisCfg struct {
	Addr          string
	Password      string
	User          string
	DB            int
	MaxRetries    int
	DialTimeout   time.Duration
	Timeout       time.Duration
	EmbedCacheTTL time.Duration // TTL кэша эмбеддингов текстовых запросов
}

type EmbeddingCfg struct {
	ModelID          string
	Device           string // auto | cpu | cuda:N
	InferenceURL     string
	InferenceTimeout time.Duration
	BatchSize        int
	MaxRetries       int
	MaxImagePixels   int
}

type WebhookCfg struct {
	Secret       string
	MaxBodyBytes int64
	DedupTTL     time.Duration
	Timeout      time.Duration // таймаут обращений к Redis на пути приёма
}

type QueueCfg struct {
	Stream         string
	Group          string
	DelayedKey     string
	WorkerCount    int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	JobTimeout     time.Duration
	ClaimIdle      time.Duration // задачи упавших воркеров забираются после этого простоя
	BlockTimeout   time.Duration
}

type SearchCfg struct {
	DefaultLimit  int
	MaxLimit      int
	MinSimilarity float32
	MaxImageBytes int64
}

type MediaCfg struct {
	FetchTimeout  time.Duration
	MaxImageBytes int64
}

// Load безопасно загружает конфигурацию и возвращает ошибку в случае неудачи.
func Load(log logger.Logger) (*Config, error) {
	db, err := loadPGDBCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	http, err := loadHTTPConfig(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	redis, err := loadRedisCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minio, err := loadMinIOCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	qdrant, err := loadQdrantCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	embedding, err := loadEmbeddingCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	webhook, err := loadWebhookCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	queue, err := loadQueueCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	search, err := loadSearchCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	media, err := loadMediaCfg(log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	kafka, err := loadKafkaCfg()
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &Config{
		Minio:     minio,
		Http:      http,
		Db:        db,
		Qdrant:    qdrant,
		Redis:     redis,
		Embedding: embedding,
		Webhook:   webhook,
		Queue:     queue,
		Search:    search,
		Media:     media,
		Kafka:     kafka,
	}, nil
}

func loadKafkaCfg() (*KafkaCfg, error) {
	const (
		defaultTopic             = "index-jobs-dlq"
		defaultPartitions        = 3
		defaultReplicationFactor = 1
		defaultNetworkMode       = "tcp"
		defaultOutboxBatchSize   = 10
		defaultOutboxPoll        = 30 * time.Second
	)

	brokerStr := os.Getenv("KAFKA_BROKERS")
	if brokerStr == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS environment variable is required")
	}
	brokers := strings.Split(brokerStr, ",")

	partitions, err := parseIntEnv("KAFKA_PARTITIONS", defaultPartitions)
	if err != nil {
		return nil, e.Wrap("KAFKA_PARTITIONS", err)
	}

	replicationFactor, err := parseIntEnv("REPLICATION_FACTOR", defaultReplicationFactor)
	if err != nil {
		return nil, e.Wrap("REPLICATION_FACTOR", err)
	}

	batchSize, err := parseIntEnv("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize)
	if err != nil {
		return nil, e.Wrap("OUTBOX_BATCH_SIZE", err)
	}

	poll, err := parseDurationEnv("OUTBOX_POLL_INTERVAL", defaultOutboxPoll)
	if err != nil {
		return nil, e.Wrap("OUTBOX_POLL_INTERVAL", err)
	}

	return &KafkaCfg{
		Brokers:           brokers,
		Topic:             getEnvOrDefault("KAFKA_DLQ_TOPIC", defaultTopic),
		Partitions:        partitions,
		ReplicationFactor: replicationFactor,
		NetworkMode:       getEnvOrDefault("KAFKA_NETWORK_MODE", defaultNetworkMode),
		OutboxBatchSize:   batchSize,
		OutboxPoll:        poll,
	}, nil
}

func loadMinIOCfg(log logger.Logger) (*MinIOCfg, error) {
	const (
		defaultUseSSL   = false
		defaultEndpoint = "minio:9000"
		defaultBucket   = "catalog-images"
	)

	useSSL, err := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", strconv.FormatBool(defaultUseSSL)))
	if err != nil {
		log.Errorf(err, "invalid MINIO_USE_SSL")
		return nil, err
	}

	return &MinIOCfg{
		MinioEndpoint:     getEnvOrDefault("MINIO_ENDPOINT", defaultEndpoint),
		BucketName:        getEnvOrDefault("BUCKET_NAME", defaultBucket),
		MinioRootUser:     getEnv("MINIO_ROOT_USER"),
		MinioRootPassword: getEnv("MINIO_ROOT_PASSWORD"),
		MinioUseSSL:       useSSL,
	}, nil
}

func loadHTTPConfig(log logger.Logger) (*HTTPConfig, error) {
	const (
		defaultPort              = "8080"
		defaultReadTimeout       = 15 * time.Second
		defaultReadHeaderTimeout = 5 * time.Second
		defaultWriteTimeout      = 30 * time.Second
		defaultIdleTimeout       = 60 * time.Second
	)

	port := getEnvOrDefault("HTTP_PORT", defaultPort)

	readTimeout, err := parseDurationEnv("HTTP_READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_TIMEOUT")
		return nil, err
	}

	readHeaderTimeout, err := parseDurationEnv("HTTP_READ_HEADER_TIMEOUT", defaultReadHeaderTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_READ_HEADER_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("HTTP_WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid HTTP_WRITE_TIMEOUT")
		return nil, err
	}

	idleTimeout, err := parseDurationEnv("KEEP_ALIVE", defaultIdleTimeout)
	if err != nil {
		log.Errorf(err, "invalid KEEP_ALIVE")
		return nil, err
	}

	return &HTTPConfig{
		Port:              port,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}, nil
}

func loadPGDBCfg(log logger.Logger) (*PGDBCfg, error) {
	const (
		defaultHost          = "localhost"
		defaultPort          = "5432"
		defaultSSLMode       = "disable"
		defaultMigrationsURL = "file://db/migrations"
	)

	user := getEnv("POSTGRES_USER")
	if user == "" {
		err := fmt.Errorf("POSTGRES_USER is required")
		log.Errorf(err, "missing POSTGRES_USER")
		return nil, err
	}

	password := getEnv("POSTGRES_PASSWORD")
	if password == "" {
		err := fmt.Errorf("POSTGRES_PASSWORD is required")
		log.Errorf(err, "missing POSTGRES_PASSWORD")
		return nil, err
	}

	dbName := getEnv("POSTGRES_DB")
	if dbName == "" {
		err := fmt.Errorf("POSTGRES_DB is required")
		log.Errorf(err, "missing POSTGRES_DB")
		return nil, err
	}

	return &PGDBCfg{
		Host:          getEnvOrDefault("POSTGRES_HOST", defaultHost),
		Port:          getEnvOrDefault("POSTGRES_PORT", defaultPort),
		User:          user,
		Password:      password,
		DBName:        dbName,
		SSLMode:       getEnvOrDefault("SSL_MODE", defaultSSLMode),
		MigrationsURL: getEnvOrDefault("MIGRATIONS_URL", defaultMigrationsURL),
	}, nil
}

func loadQdrantCfg(log logger.Logger) (*QdrantCfg, error) {
	const (
		defaultQdrantGRPCPort = "6334"
		defaultHost           = "localhost"
		defaultUseTLS         = false
		defaultVectorSize     = "512"
		defaultCollection     = "product_embeddings"
		defaultDistance       = "cosine"
		defaultMaxRecvMsgSize = 32 << 20
	)

	backend := strings.ToLower(getEnvOrDefault("VECTOR_BACKEND", VectorBackendQdrant))
	if backend != VectorBackendQdrant && backend != VectorBackendMemory {
		err := e.Wrap("VECTOR_BACKEND="+backend, e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid VECTOR_BACKEND")
		return nil, err
	}

	port, err := strconv.Atoi(getEnvOrDefault("QDRANT_GRPC_PORT", defaultQdrantGRPCPort))
	if err != nil {
		log.Errorf(err, "invalid QDRANT_GRPC_PORT")
		return nil, err
	}

	useTLS, err := strconv.ParseBool(getEnvOrDefault("QDRANT_USE_TLS", strconv.FormatBool(defaultUseTLS)))
	if err != nil {
		log.Errorf(err, "invalid QDRANT_USE_TLS")
		return nil, err
	}

	vectorSize, err := strconv.ParseUint(getEnvOrDefault("VECTOR_SIZE", defaultVectorSize), 10, 64)
	if err != nil || vectorSize == 0 {
		err = e.Wrap("VECTOR_SIZE", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid VECTOR_SIZE")
		return nil, err
	}

	// только метрики сходства: поиск считает, что больший score ближе
	distance := strings.ToLower(getEnvOrDefault("QDRANT_DISTANCE", defaultDistance))
	switch distance {
	case "cosine", "dot":
	default:
		err := e.Wrap("QDRANT_DISTANCE="+distance, e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid QDRANT_DISTANCE")
		return nil, err
	}

	maxRecv, err := parseIntEnv("QDRANT_MAX_RECV_MSG_SIZE", defaultMaxRecvMsgSize)
	if err != nil {
		log.Errorf(err, "invalid QDRANT_MAX_RECV_MSG_SIZE")
		return nil, err
	}

	return &QdrantCfg{
		Backend:              backend,
		Host:                 getEnvOrDefault("QDRANT_HOST", defaultHost),
		Port:                 port,
		ApiKey:               getEnv("QDRANT__SERVICE__API_KEY"),
		QdrantCollectionName: getEnvOrDefault("COLLECTION_NAME", defaultCollection),
		UseTLS:               useTLS,
		VectorSize:           vectorSize,
		Distance:             distance,
		MaxRecvMsgSize:       maxRecv,
	}, nil
}

func loadRedisCfg(log logger.Logger) (*RedisCfg, error) {
	const (
		defaultAddr          = "localhost:6379"
		defaultDB            = 0
		defaultMaxRetries    = 3
		defaultDialTimeout   = 5 * time.Second
		defaultReadTimeout   = 3 * time.Second
		defaultWriteTimeout  = 3 * time.Second
		defaultEmbedCacheTTL = 10 * time.Minute
	)

	db, err := parseIntEnv("REDIS_DB_ID", defaultDB)
	if err != nil {
		log.Errorf(err, "invalid REDIS_DB_ID")
		return nil, err
	}

	maxRetries, err := parseIntEnv("REDIS_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid REDIS_MAX_RETRIES")
		return nil, err
	}

	dialTimeout, err := parseDurationEnv("DIAL_TIMEOUT", defaultDialTimeout)
	if err != nil {
		log.Errorf(err, "invalid DIAL_TIMEOUT")
		return nil, err
	}

	readTimeout, err := parseDurationEnv("READ_TIMEOUT", defaultReadTimeout)
	if err != nil {
		log.Errorf(err, "invalid READ_TIMEOUT")
		return nil, err
	}

	writeTimeout, err := parseDurationEnv("WRITE_TIMEOUT", defaultWriteTimeout)
	if err != nil {
		log.Errorf(err, "invalid WRITE_TIMEOUT")
		return nil, err
	}

	embedCacheTTL, err := parseDurationEnv("EMBED_CACHE_TTL", defaultEmbedCacheTTL)
	if err != nil {
		log.Errorf(err, "invalid EMBED_CACHE_TTL")
		return nil, err
	}

	timeout := readTimeout
	if writeTimeout > timeout {
		timeout = writeTimeout
	}

	return &RedisCfg{
		Addr:          getEnvOrDefault("REDIS_ADDR", defaultAddr),
		Password:      getEnv("REDIS_PASSWORD"),
		User:          getEnv("REDIS_USER"),
		DB:            db,
		MaxRetries:    maxRetries,
		DialTimeout:   dialTimeout,
		Timeout:       timeout,
		EmbedCacheTTL: embedCacheTTL,
	}, nil
}

func loadEmbeddingCfg(log logger.Logger) (*EmbeddingCfg, error) {
	const (
		defaultModelID          = "openai/clip-vit-base-patch32"
		defaultDevice           = "auto"
		defaultInferenceURL     = "http://inference:8000"
		defaultInferenceTimeout = 30 * time.Second
		defaultBatchSize        = 32
		defaultMaxRetries       = 3
		defaultMaxImagePixels   = 40_000_000
	)

	device := strings.ToLower(getEnvOrDefault("MODEL_DEVICE", defaultDevice))
	if !isValidDevice(device) {
		err := e.Wrap("MODEL_DEVICE="+device, e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid MODEL_DEVICE")
		return nil, err
	}

	timeout, err := parseDurationEnv("INFERENCE_TIMEOUT", defaultInferenceTimeout)
	if err != nil {
		log.Errorf(err, "invalid INFERENCE_TIMEOUT")
		return nil, err
	}

	batchSize, err := parseIntEnv("EMBED_BATCH_SIZE", defaultBatchSize)
	if err != nil || batchSize <= 0 {
		err = e.Wrap("EMBED_BATCH_SIZE", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid EMBED_BATCH_SIZE")
		return nil, err
	}

	maxRetries, err := parseIntEnv("INFERENCE_MAX_RETRIES", defaultMaxRetries)
	if err != nil {
		log.Errorf(err, "invalid INFERENCE_MAX_RETRIES")
		return nil, err
	}

	maxPixels, err := parseIntEnv("MAX_IMAGE_PIXELS", defaultMaxImagePixels)
	if err != nil {
		log.Errorf(err, "invalid MAX_IMAGE_PIXELS")
		return nil, err
	}

	return &EmbeddingCfg{
		ModelID:          getEnvOrDefault("MODEL_ID", defaultModelID),
		Device:           device,
		InferenceURL:     strings.TrimRight(getEnvOrDefault("INFERENCE_URL", defaultInferenceURL), "/"),
		InferenceTimeout: timeout,
		BatchSize:        batchSize,
		MaxRetries:       maxRetries,
		MaxImagePixels:   maxPixels,
	}, nil
}

func loadWebhookCfg(log logger.Logger) (*WebhookCfg, error) {
	const (
		defaultMaxBodyBytes = 1 << 20
		defaultDedupTTL     = 72 * time.Hour
		defaultTimeout      = 2 * time.Second
	)

	secret := getEnv("WEBHOOK_SECRET")
	if secret == "" {
		err := fmt.Errorf("WEBHOOK_SECRET is required")
		log.Errorf(err, "missing WEBHOOK_SECRET")
		return nil, err
	}

	maxBody, err := parseIntEnv("WEBHOOK_MAX_BODY", defaultMaxBodyBytes)
	if err != nil {
		log.Errorf(err, "invalid WEBHOOK_MAX_BODY")
		return nil, err
	}

	dedupTTL, err := parseDurationEnv("DEDUP_TTL", defaultDedupTTL)
	if err != nil {
		log.Errorf(err, "invalid DEDUP_TTL")
		return nil, err
	}

	timeout, err := parseDurationEnv("WEBHOOK_TIMEOUT", defaultTimeout)
	if err != nil {
		log.Errorf(err, "invalid WEBHOOK_TIMEOUT")
		return nil, err
	}

	return &WebhookCfg{
		Secret:       secret,
		MaxBodyBytes: int64(maxBody),
		DedupTTL:     dedupTTL,
		Timeout:      timeout,
	}, nil
}

func loadQueueCfg(log logger.Logger) (*QueueCfg, error) {
	const (
		defaultStream         = "index:jobs"
		defaultGroup          = "indexers"
		defaultDelayedKey     = "index:jobs:delayed"
		defaultWorkerCount    = 4
		defaultMaxAttempts    = 3
		defaultRetryBaseDelay = 2 * time.Second
		defaultRetryMaxDelay  = 2 * time.Minute
		defaultJobTimeout     = 60 * time.Second
		defaultClaimIdle      = 5 * time.Minute
		defaultBlockTimeout   = 2 * time.Second
	)

	workers, err := parseIntEnv("WORKER_COUNT", defaultWorkerCount)
	if err != nil || workers <= 0 {
		err = e.Wrap("WORKER_COUNT", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid WORKER_COUNT")
		return nil, err
	}

	maxAttempts, err := parseIntEnv("MAX_ATTEMPTS", defaultMaxAttempts)
	if err != nil || maxAttempts <= 0 {
		err = e.Wrap("MAX_ATTEMPTS", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid MAX_ATTEMPTS")
		return nil, err
	}

	durations := map[string]*time.Duration{}
	var (
		baseDelay    = defaultRetryBaseDelay
		maxDelay     = defaultRetryMaxDelay
		jobTimeout   = defaultJobTimeout
		claimIdle    = defaultClaimIdle
		blockTimeout = defaultBlockTimeout
	)
	durations["RETRY_BASE_DELAY"] = &baseDelay
	durations["RETRY_MAX_DELAY"] = &maxDelay
	durations["JOB_TIMEOUT"] = &jobTimeout
	durations["QUEUE_CLAIM_IDLE"] = &claimIdle
	durations["QUEUE_BLOCK_TIMEOUT"] = &blockTimeout

	for key, dst := range durations {
		v, err := parseDurationEnv(key, *dst)
		if err != nil || v <= 0 {
			err = e.Wrap(key, e.ErrIncorrectEnvVariable)
			log.Errorf(err, "invalid %s", key)
			return nil, err
		}
		*dst = v
	}

	return &QueueCfg{
		Stream:         getEnvOrDefault("QUEUE_STREAM", defaultStream),
		Group:          getEnvOrDefault("QUEUE_GROUP", defaultGroup),
		DelayedKey:     getEnvOrDefault("QUEUE_DELAYED_KEY", defaultDelayedKey),
		WorkerCount:    workers,
		MaxAttempts:    maxAttempts,
		RetryBaseDelay: baseDelay,
		RetryMaxDelay:  maxDelay,
		JobTimeout:     jobTimeout,
		ClaimIdle:      claimIdle,
		BlockTimeout:   blockTimeout,
	}, nil
}

func loadSearchCfg(log logger.Logger) (*SearchCfg, error) {
	const (
		defaultLimit         = 20
		defaultMaxLimit      = 100
		defaultMinSimilarity = "0"
		defaultMaxImageBytes = 10 << 20
	)

	limit, err := parseIntEnv("SEARCH_DEFAULT_LIMIT", defaultLimit)
	if err != nil {
		log.Errorf(err, "invalid SEARCH_DEFAULT_LIMIT")
		return nil, err
	}

	maxLimit, err := parseIntEnv("SEARCH_MAX_LIMIT", defaultMaxLimit)
	if err != nil || maxLimit < limit {
		err = e.Wrap("SEARCH_MAX_LIMIT", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid SEARCH_MAX_LIMIT")
		return nil, err
	}

	minSimilarity, err := strconv.ParseFloat(getEnvOrDefault("SEARCH_MIN_SIMILARITY", defaultMinSimilarity), 32)
	if err != nil || minSimilarity < 0 || minSimilarity > 1 {
		err = e.Wrap("SEARCH_MIN_SIMILARITY", e.ErrIncorrectEnvVariable)
		log.Errorf(err, "invalid SEARCH_MIN_SIMILARITY")
		return nil, err
	}

	maxImage, err := parseIntEnv("SEARCH_MAX_IMAGE_BYTES", defaultMaxImageBytes)
	if err != nil {
		log.Errorf(err, "invalid SEARCH_MAX_IMAGE_BYTES")
		return nil, err
	}

	return &SearchCfg{
		DefaultLimit:  limit,
		MaxLimit:      maxLimit,
		MinSimilarity: float32(minSimilarity),
		MaxImageBytes: int64(maxImage),
	}, nil
}

func loadMediaCfg(log logger.Logger) (*MediaCfg, error) {
	const (
		defaultFetchTimeout  = 15 * time.Second
		defaultMaxImageBytes = 20 << 20
	)

	timeout, err := parseDurationEnv("IMAGE_FETCH_TIMEOUT", defaultFetchTimeout)
	if err != nil {
		log.Errorf(err, "invalid IMAGE_FETCH_TIMEOUT")
		return nil, err
	}

	maxBytes, err := parseIntEnv("IMAGE_MAX_BYTES", defaultMaxImageBytes)
	if err != nil {
		log.Errorf(err, "invalid IMAGE_MAX_BYTES")
		return nil, err
	}

	return &MediaCfg{
		FetchTimeout:  timeout,
		MaxImageBytes: int64(maxBytes),
	}, nil
}

// isValidDevice принимает auto, cpu, cuda, cuda:N и gpu:N.
func isValidDevice(device string) bool {
	switch device {
	case "auto", "cpu", "cuda", "gpu":
		return true
	}

	for _, prefix := range []string{"cuda:", "gpu:"} {
		if idx, ok := strings.CutPrefix(device, prefix); ok {
			n, err := strconv.Atoi(idx)
			return err == nil && n >= 0
		}
	}

	return false
}

// getEnv возвращает значение переменной окружения.
// Возвращает пустую строку, если переменная не задана.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// parseDurationEnv считывает длительность или возвращает значение по умолчанию.
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		return time.ParseDuration(v)
	}

	return defaultValue, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue, e.ErrIncorrectEnvVariable
	}

	return intValue, nil
}
