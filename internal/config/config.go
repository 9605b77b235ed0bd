package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProjectType represents the type of project detected.
type ProjectType string

const (
	ProjectTypeGo      ProjectType = "go"
	ProjectTypeNode    ProjectType = "node"
	ProjectTypePython  ProjectType = "python"
	ProjectTypeUnknown ProjectType = "unknown"
)

// Config represents the complete megabrain configuration, mirroring the
// `megabrain.*` configuration surface (§6).
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Index       IndexConfig       `yaml:"index" json:"index"`
	Ingestion   IngestionConfig   `yaml:"ingestion" json:"ingestion"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Submodules  SubmoduleConfig   `yaml:"submodules" json:"submodules"`
}

// PathsConfig configures which paths to include and exclude.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// BoostConfiguration holds the per-field positive multipliers applied to
// the Lexical Index's boosted fields (§4.6). Values must be positive.
type BoostConfiguration struct {
	Content     float64 `yaml:"content" json:"content"`
	EntityName  float64 `yaml:"entity-name" json:"entity_name"`
	DocSummary  float64 `yaml:"doc-summary" json:"doc_summary"`
}

// Validate checks that every boost is strictly positive.
func (b BoostConfiguration) Validate() error {
	if b.Content <= 0 {
		return fmt.Errorf("search.boost.content must be positive, got %f", b.Content)
	}
	if b.EntityName <= 0 {
		return fmt.Errorf("search.boost.entity-name must be positive, got %f", b.EntityName)
	}
	if b.DocSummary <= 0 {
		return fmt.Errorf("search.boost.doc-summary must be positive, got %f", b.DocSummary)
	}
	return nil
}

// HybridWeights controls the linear combination the Hybrid Search
// Orchestrator applies to min-max-normalized lexical and vector scores
// (§4.5, §4.6): `combined = keyword_weight*norm_lex + vector_weight*norm_vec`.
type HybridWeights struct {
	KeywordWeight float64 `yaml:"keyword-weight" json:"keyword_weight"`
	VectorWeight  float64 `yaml:"vector-weight" json:"vector_weight"`
}

// Validate checks `0 <= both <= 1` and `sum == 1`, per §4.6.
func (w HybridWeights) Validate() error {
	if w.KeywordWeight < 0 || w.KeywordWeight > 1 {
		return fmt.Errorf("search.hybrid.keyword-weight must be between 0 and 1, got %f", w.KeywordWeight)
	}
	if w.VectorWeight < 0 || w.VectorWeight > 1 {
		return fmt.Errorf("search.hybrid.vector-weight must be between 0 and 1, got %f", w.VectorWeight)
	}
	sum := w.KeywordWeight + w.VectorWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.hybrid.keyword-weight + vector-weight must equal 1.0, got %.2f", sum)
	}
	return nil
}

// FacetsConfig configures the facet breakdown attached to search responses.
type FacetsConfig struct {
	// Limit is the top-N facet values returned per dimension (default 10).
	Limit int `yaml:"limit" json:"limit"`
}

// TransitiveConfig configures the Transitive Graph Resolver's BFS bounds.
type TransitiveConfig struct {
	// DefaultDepth is used when a request sets transitive=true without depth.
	DefaultDepth int `yaml:"default-depth" json:"default_depth"`
	// MaxDepth is the hard ceiling a per-request depth is clamped to.
	MaxDepth int `yaml:"max-depth" json:"max_depth"`
}

// SearchConfig configures the Hybrid Search Orchestrator: field boosts,
// keyword/vector weighting, facet breadth, and transitive-expansion bounds.
// Configurable via:
//  1. User config (~/.config/megabrain/config.yaml) - personal defaults
//  2. Project config (.megabrain.yaml) - per-repo tuning
//  3. Env vars (MEGABRAIN_*) - highest precedence
type SearchConfig struct {
	Boost      BoostConfiguration `yaml:"boost" json:"boost"`
	Hybrid     HybridWeights      `yaml:"hybrid" json:"hybrid"`
	Facets     FacetsConfig       `yaml:"facets" json:"facets"`
	Transitive TransitiveConfig   `yaml:"transitive" json:"transitive"`

	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxResults   int `yaml:"max_results" json:"max_results"`
}

// IndexConfig configures the Indexing Pipeline's batching behavior.
type IndexConfig struct {
	// BatchSize is the number of chunks accumulated before a lexical
	// add_chunks / embedder+vector-upsert round (default 1000).
	BatchSize int `yaml:"batch" json:"batch_size"`
}

// IngestionConfig configures repository ingestion scratch space.
type IngestionConfig struct {
	// TempDir is where RepositorySource clones working trees for ingestion.
	TempDir string `yaml:"temp-dir" json:"temp_dir"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`

	// Ollama settings (default, cross-platform)
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
}

// PerformanceConfig configures performance tuning options.
type PerformanceConfig struct {
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	IndexWorkers  int    `yaml:"index_workers" json:"index_workers"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	CacheSize     int    `yaml:"cache_size" json:"cache_size"`
	MemoryLimit   string `yaml:"memory_limit" json:"memory_limit"`
	SQLiteCacheMB int    `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// ServerConfig configures the search/ingestion API surface.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	Port      int    `yaml:"port" json:"port"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// SubmoduleConfig configures git submodule discovery.
type SubmoduleConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Recursive bool     `yaml:"recursive" json:"recursive"`
	Include   []string `yaml:"include" json:"include"`
	Exclude   []string `yaml:"exclude" json:"exclude"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			Boost: BoostConfiguration{
				Content:    1.0,
				EntityName: 3.0,
				DocSummary: 2.0,
			},
			Hybrid: HybridWeights{
				KeywordWeight: 0.6,
				VectorWeight:  0.4,
			},
			Facets: FacetsConfig{
				Limit: 10,
			},
			Transitive: TransitiveConfig{
				DefaultDepth: 5,
				MaxDepth:     10,
			},
			ChunkSize:    1500,
			ChunkOverlap: 200,
			MaxResults:   20,
		},
		Index: IndexConfig{
			BatchSize: 1000,
		},
		Ingestion: IngestionConfig{
			TempDir: filepath.Join(os.TempDir(), "megabrain", "ingestion"),
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // Empty selects Ollama; there is no automatic fallback to static
			Model:      "qwen3-embedding:8b",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			OllamaHost: "", // Empty uses default http://localhost:11434
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IndexWorkers:  runtime.NumCPU(),
			WatchDebounce: "500ms",
			CacheSize:     1000,
			MemoryLimit:   "auto",
			SQLiteCacheMB: 64,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      8765,
			LogLevel:  "info",
		},
		Submodules: SubmoduleConfig{
			Enabled:   false,
			Recursive: true,
			Include:   nil,
			Exclude:   nil,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/megabrain/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/megabrain/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "megabrain", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "megabrain", "config.yaml")
	}
	return filepath.Join(home, ".config", "megabrain", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/megabrain/config.yaml)
//  3. Project config (.megabrain.yaml in project root)
//  4. Environment variables (MEGABRAIN_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .megabrain.yaml or .megabrain.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".megabrain.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".megabrain.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Paths
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	// Search: boost, hybrid weights, facets, transitive
	if other.Search.Boost.Content != 0 {
		c.Search.Boost.Content = other.Search.Boost.Content
	}
	if other.Search.Boost.EntityName != 0 {
		c.Search.Boost.EntityName = other.Search.Boost.EntityName
	}
	if other.Search.Boost.DocSummary != 0 {
		c.Search.Boost.DocSummary = other.Search.Boost.DocSummary
	}
	if other.Search.Hybrid.KeywordWeight != 0 {
		c.Search.Hybrid.KeywordWeight = other.Search.Hybrid.KeywordWeight
	}
	if other.Search.Hybrid.VectorWeight != 0 {
		c.Search.Hybrid.VectorWeight = other.Search.Hybrid.VectorWeight
	}
	if other.Search.Facets.Limit != 0 {
		c.Search.Facets.Limit = other.Search.Facets.Limit
	}
	if other.Search.Transitive.DefaultDepth != 0 {
		c.Search.Transitive.DefaultDepth = other.Search.Transitive.DefaultDepth
	}
	if other.Search.Transitive.MaxDepth != 0 {
		c.Search.Transitive.MaxDepth = other.Search.Transitive.MaxDepth
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}

	// Index / Ingestion
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}
	if other.Ingestion.TempDir != "" {
		c.Ingestion.TempDir = other.Ingestion.TempDir
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	// Performance
	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Performance.MemoryLimit != "" {
		c.Performance.MemoryLimit = other.Performance.MemoryLimit
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Submodules
	if len(other.Submodules.Include) > 0 || len(other.Submodules.Exclude) > 0 || other.Submodules.Enabled {
		c.Submodules.Enabled = other.Submodules.Enabled
		c.Submodules.Recursive = other.Submodules.Recursive
	}
	if len(other.Submodules.Include) > 0 {
		c.Submodules.Include = other.Submodules.Include
	}
	if len(other.Submodules.Exclude) > 0 {
		c.Submodules.Exclude = other.Submodules.Exclude
	}
}

// applyEnvOverrides applies MEGABRAIN_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEGABRAIN_SEARCH_KEYWORD_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.Hybrid.KeywordWeight = w
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.Hybrid.VectorWeight = w
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_BOOST_CONTENT"); v != "" {
		if b, err := parseFloat64(v); err == nil && b > 0 {
			c.Search.Boost.Content = b
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_BOOST_ENTITY_NAME"); v != "" {
		if b, err := parseFloat64(v); err == nil && b > 0 {
			c.Search.Boost.EntityName = b
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_BOOST_DOC_SUMMARY"); v != "" {
		if b, err := parseFloat64(v); err == nil && b > 0 {
			c.Search.Boost.DocSummary = b
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_FACETS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.Facets.Limit = n
		}
	}
	if v := os.Getenv("MEGABRAIN_SEARCH_TRANSITIVE_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.Transitive.MaxDepth = n
		}
	}
	if v := os.Getenv("MEGABRAIN_INDEX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.BatchSize = n
		}
	}
	if v := os.Getenv("MEGABRAIN_INGESTION_TEMP_DIR"); v != "" {
		c.Ingestion.TempDir = v
	}

	if v := os.Getenv("MEGABRAIN_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MEGABRAIN_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("MEGABRAIN_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MEGABRAIN_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("MEGABRAIN_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("MEGABRAIN_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// DetectProjectType detects the project type based on marker files.
// Priority: go.mod > package.json > pyproject.toml/requirements.txt
func DetectProjectType(dir string) ProjectType {
	if fileExists(filepath.Join(dir, "go.mod")) {
		return ProjectTypeGo
	}

	if fileExists(filepath.Join(dir, "package.json")) {
		return ProjectTypeNode
	}

	if fileExists(filepath.Join(dir, "pyproject.toml")) ||
		fileExists(filepath.Join(dir, "requirements.txt")) {
		return ProjectTypePython
	}

	return ProjectTypeUnknown
}

// FindProjectRoot finds the project root directory.
// It looks for .git directory or .megabrain.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		if fileExists(filepath.Join(currentDir, ".megabrain.yaml")) ||
			fileExists(filepath.Join(currentDir, ".megabrain.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverSourceDirs discovers common source directories in the project.
func DiscoverSourceDirs(dir string) []string {
	commonSourceDirs := []string{"src", "lib", "pkg", "internal", "cmd"}
	frameworkDirs := []string{"app", "pages"}

	var found []string

	for _, d := range commonSourceDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	if isNextJS(dir) {
		for _, d := range frameworkDirs {
			if dirExists(filepath.Join(dir, d)) {
				found = append(found, d)
			}
		}
	}

	return found
}

// DiscoverDocsDirs discovers documentation directories in the project.
func DiscoverDocsDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string

	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}

	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break
		}
	}

	return found
}

// isNextJS checks if the project is a Next.js project.
func isNextJS(dir string) bool {
	pkgPath := filepath.Join(dir, "package.json")
	if !fileExists(pkgPath) {
		return false
	}

	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return false
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}

	_, hasNext := pkg.Dependencies["next"]
	_, hasNextDev := pkg.DevDependencies["next"]
	return hasNext || hasNextDev
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// String returns a string representation of ProjectType.
func (p ProjectType) String() string {
	return string(p)
}

// IsKnown returns true if the project type is known (not unknown).
func (p ProjectType) IsKnown() bool {
	return p != ProjectTypeUnknown
}

// Validate validates the configuration and returns an error if invalid.
// Startup validation failure is fatal; per-request hybrid-weight overrides
// are revalidated the same way (§4.6).
func (c *Config) Validate() error {
	if err := c.Search.Boost.Validate(); err != nil {
		return err
	}
	if err := c.Search.Hybrid.Validate(); err != nil {
		return err
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be non-negative, got %d", c.Search.ChunkSize)
	}
	if c.Search.Transitive.DefaultDepth < 1 || c.Search.Transitive.DefaultDepth > c.Search.Transitive.MaxDepth {
		return fmt.Errorf("search.transitive.default-depth must be between 1 and max-depth (%d), got %d",
			c.Search.Transitive.MaxDepth, c.Search.Transitive.DefaultDepth)
	}
	if c.Index.BatchSize <= 0 {
		return fmt.Errorf("index.batch must be positive, got %d", c.Index.BatchSize)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"ollama": true, "mlx": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'ollama', 'mlx', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true, "sse": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio' or 'sse', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing values.
// Returns a list of field names that were added with their default values.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.Boost.Content == 0 {
		c.Search.Boost.Content = defaults.Search.Boost.Content
		added = append(added, "search.boost.content")
	}
	if c.Search.Boost.EntityName == 0 {
		c.Search.Boost.EntityName = defaults.Search.Boost.EntityName
		added = append(added, "search.boost.entity-name")
	}
	if c.Search.Boost.DocSummary == 0 {
		c.Search.Boost.DocSummary = defaults.Search.Boost.DocSummary
		added = append(added, "search.boost.doc-summary")
	}
	if c.Search.Hybrid.KeywordWeight == 0 && c.Search.Hybrid.VectorWeight == 0 {
		c.Search.Hybrid = defaults.Search.Hybrid
		added = append(added, "search.hybrid")
	}
	if c.Search.Facets.Limit == 0 {
		c.Search.Facets.Limit = defaults.Search.Facets.Limit
		added = append(added, "search.facets.limit")
	}
	if c.Search.Transitive.DefaultDepth == 0 {
		c.Search.Transitive.DefaultDepth = defaults.Search.Transitive.DefaultDepth
		added = append(added, "search.transitive.default-depth")
	}
	if c.Search.Transitive.MaxDepth == 0 {
		c.Search.Transitive.MaxDepth = defaults.Search.Transitive.MaxDepth
		added = append(added, "search.transitive.max-depth")
	}
	if c.Index.BatchSize == 0 {
		c.Index.BatchSize = defaults.Index.BatchSize
		added = append(added, "index.batch")
	}
	if c.Ingestion.TempDir == "" {
		c.Ingestion.TempDir = defaults.Ingestion.TempDir
		added = append(added, "ingestion.temp-dir")
	}

	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}

	return added
}
