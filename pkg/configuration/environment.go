package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/field-registry/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c := &Configuration{}
	if err := c.load([]string{".env", ".env.local"}); err != nil {
		c.Unload()
		panic(err)
	}
	return c
})

// LoadEnv loads the given env files from the working directory, falling back to
// the nearest directory holding a go.mod so tests run from package dirs pick them up.
func LoadEnv(envFiles []string) (int, error) {
	root := moduleRoot()
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existingFiles = append(existingFiles, file)
			continue
		}
		if root == "" || filepath.IsAbs(file) {
			continue
		}
		if candidate := filepath.Join(root, file); fs.FileExists(candidate) {
			existingFiles = append(existingFiles, candidate)
		}
	}
	if len(existingFiles) == 0 {
		return 0, nil
	}
	return len(existingFiles), godotenv.Load(existingFiles...)
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"field_registry"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"field-registry"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type RateLimitOptions struct {
	Enabled   bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	GlobalRPS int    `env:"RATE_LIMIT_GLOBAL_RPS" envDefault:"1000"`
	Storage   string `env:"RATE_LIMIT_STORAGE" envDefault:"memory"` // memory or redis
	RedisURL  string `env:"RATE_LIMIT_REDIS_URL"`
}

func (r *RateLimitOptions) Validate() error {
	if r.GlobalRPS < 0 {
		return fmt.Errorf("rate limit GlobalRPS must be non-negative, got %d", r.GlobalRPS)
	}
	if r.Storage != "memory" && r.Storage != "redis" {
		return fmt.Errorf("rate limit Storage must be 'memory' or 'redis', got '%s'", r.Storage)
	}
	if r.Storage == "redis" && r.RedisURL == "" {
		return fmt.Errorf("rate limit RedisURL is required when Storage is 'redis'")
	}
	return nil
}

type InvalidRecordPolicy string

const (
	// InvalidRecordPolicySkip commits the valid subset and reports Invalid records as skipped.
	InvalidRecordPolicySkip InvalidRecordPolicy = "skip"
	// InvalidRecordPolicyBlock rejects approval while Invalid records exist unless acknowledged.
	InvalidRecordPolicyBlock InvalidRecordPolicy = "block"
)

// ImportOptions tunes the offline-package import pipeline.
type ImportOptions struct {
	MatchFloor       float64 `env:"IMPORT_MATCH_FLOOR" envDefault:"0.5"`
	HighConfidence   float64 `env:"IMPORT_HIGH_CONFIDENCE" envDefault:"0.9"`
	MediumConfidence float64 `env:"IMPORT_MEDIUM_CONFIDENCE" envDefault:"0.7"`

	AutoResolveEnabled   bool     `env:"IMPORT_AUTO_RESOLVE_ENABLED" envDefault:"false"`
	AutoResolveThreshold float64  `env:"IMPORT_AUTO_RESOLVE_THRESHOLD" envDefault:"1.0"`
	AutoResolveTypes     []string `env:"IMPORT_AUTO_RESOLVE_TYPES" envSeparator:"," envDefault:"property_duplicate"`
	AutoResolveAction    string   `env:"IMPORT_AUTO_RESOLVE_ACTION" envDefault:"keep_second"`

	MatchWorkers   int `env:"IMPORT_MATCH_WORKERS" envDefault:"8"`
	CandidateLimit int `env:"IMPORT_CANDIDATE_LIMIT" envDefault:"50"`

	InvalidRecordPolicy InvalidRecordPolicy `env:"IMPORT_INVALID_RECORD_POLICY" envDefault:"skip"`

	TargetResolutionHours     int `env:"IMPORT_TARGET_RESOLUTION_HOURS" envDefault:"72"`
	HighPriorityResolutionHrs int `env:"IMPORT_HIGH_PRIORITY_RESOLUTION_HOURS" envDefault:"24"`

	StageBatchSize   int           `env:"IMPORT_STAGE_BATCH_SIZE" envDefault:"200"`
	StageTimeout     time.Duration `env:"IMPORT_STAGE_TIMEOUT" envDefault:"5m"`
	StagingRetention time.Duration `env:"IMPORT_STAGING_RETENTION" envDefault:"720h"`
	MaxPackageBytes  int64         `env:"IMPORT_MAX_PACKAGE_BYTES" envDefault:"268435456"`

	IncomingDir    string `env:"IMPORT_INCOMING_DIR" envDefault:"./data/incoming"`
	ArchiveDir     string `env:"IMPORT_ARCHIVE_DIR" envDefault:"./data/archive"`
	AttachmentsDir string `env:"IMPORT_ATTACHMENTS_DIR" envDefault:"./data/attachments"`
	VocabularyPath string `env:"IMPORT_VOCABULARY_PATH" envDefault:""`

	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" envDefault:"15m"`
}

func (o *ImportOptions) Validate() error {
	if o.MatchFloor < 0 || o.MatchFloor > 1 {
		return fmt.Errorf("IMPORT_MATCH_FLOOR must be within [0,1], got %v", o.MatchFloor)
	}
	if !(o.MatchFloor <= o.MediumConfidence && o.MediumConfidence <= o.HighConfidence && o.HighConfidence <= 1) {
		return fmt.Errorf(
			"confidence thresholds must satisfy floor <= medium <= high <= 1, got %v/%v/%v",
			o.MatchFloor, o.MediumConfidence, o.HighConfidence,
		)
	}
	if o.AutoResolveThreshold < 0 || o.AutoResolveThreshold > 1 {
		return fmt.Errorf("IMPORT_AUTO_RESOLVE_THRESHOLD must be within [0,1], got %v", o.AutoResolveThreshold)
	}
	switch o.AutoResolveAction {
	case "keep_first", "keep_second", "keep_both", "ignore":
	default:
		return fmt.Errorf("invalid IMPORT_AUTO_RESOLVE_ACTION=%q (expected keep_first|keep_second|keep_both|ignore)", o.AutoResolveAction)
	}
	policy := InvalidRecordPolicy(strings.ToLower(strings.TrimSpace(string(o.InvalidRecordPolicy))))
	switch policy {
	case "":
		policy = InvalidRecordPolicySkip
	case InvalidRecordPolicySkip, InvalidRecordPolicyBlock:
	default:
		return fmt.Errorf("invalid IMPORT_INVALID_RECORD_POLICY=%q (expected skip|block)", o.InvalidRecordPolicy)
	}
	o.InvalidRecordPolicy = policy
	if o.MatchWorkers <= 0 {
		return fmt.Errorf("IMPORT_MATCH_WORKERS must be positive, got %d", o.MatchWorkers)
	}
	if o.StageBatchSize <= 0 {
		return fmt.Errorf("IMPORT_STAGE_BATCH_SIZE must be positive, got %d", o.StageBatchSize)
	}
	if o.TargetResolutionHours <= 0 || o.HighPriorityResolutionHrs <= 0 {
		return fmt.Errorf("resolution target hours must be positive")
	}
	return nil
}

type Configuration struct {
	Database         DatabaseOptions
	OpenTelemetry    OpenTelemetryOptions
	Prometheus       PrometheusOptions
	RateLimit        RateLimitOptions
	Import           ImportOptions
	ActionLogEnabled bool `env:"ACTION_LOG_ENABLED" envDefault:"true"`

	CorsAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	ServerPort       int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress    string `env:"-"`
	Origin           string `env:"ORIGIN" envDefault:""`
	PageSize         int    `env:"PAGE_SIZE" envDefault:"25"`
	MaxPageSize      int    `env:"MAX_PAGE_SIZE" envDefault:"100"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	// Looked up on every request, a uuidv4 is generated when absent.
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`
	RealIPHeader    string `env:"REAL_IP_HEADER" envDefault:"X-Real-IP"`
	// Header carrying the authenticated user id, set by the upstream gateway.
	UserIDHeader string `env:"USER_ID_HEADER" envDefault:"X-User-ID"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Scheme() string {
	if c.GoAppEnvironment == Production {
		return "https"
	}
	return "http"
}

func Use() *Configuration {
	return singleton()
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := c.Import.Validate(); err != nil {
		return fmt.Errorf("import configuration error: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}
	if c.Origin == "" {
		c.Origin = fmt.Sprintf("%s://localhost:%d", c.Scheme(), c.ServerPort)
	}
	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
