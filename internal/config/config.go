package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Location  LocationConfig
	SOS       SOSConfig
	Device    DeviceConfig
	RateLimit RateLimitConfig
	CheckIn   CheckInConfig
	AI        AIConfig
	Speech    SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	location, err := loadLocationConfig()
	if err != nil {
		return nil, err
	}

	sos, err := loadSOSConfig()
	if err != nil {
		return nil, err
	}

	device, err := loadDeviceConfig()
	if err != nil {
		return nil, err
	}

	rateLimit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	checkIn, err := loadCheckInConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Storage:   StorageConfig{Path: getEnvOrDefault("GUARDIAN_DB_PATH", "data/guardian.db")},
		Location:  location,
		SOS:       sos,
		Device:    device,
		RateLimit: rateLimit,
		CheckIn:   checkIn,
		AI:        ai,
		Speech:    speech,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// StorageConfig 描述联系人持久化位置。
type StorageConfig struct {
	Path string
}

// LocationConfig 描述定位请求的默认超时与缓存。
type LocationConfig struct {
	FixTimeout time.Duration
	CacheTTL   time.Duration
}

func loadLocationConfig() (LocationConfig, error) {
	fixTimeout, err := parseDurationMsEnv("LOCATION_FIX_TIMEOUT_MS", 10*time.Second)
	if err != nil {
		return LocationConfig{}, err
	}
	cacheTTL, err := parseDurationMsEnv("LOCATION_CACHE_TTL_MS", 5*time.Minute)
	if err != nil {
		return LocationConfig{}, err
	}
	return LocationConfig{FixTimeout: fixTimeout, CacheTTL: cacheTTL}, nil
}

// SOSConfig 限定求救流程每一步的等待时间。
type SOSConfig struct {
	FixTimeout   time.Duration
	ShareTimeout time.Duration
	AlertTimeout time.Duration
}

func loadSOSConfig() (SOSConfig, error) {
	fixTimeout, err := parseDurationMsEnv("SOS_FIX_TIMEOUT_MS", 8*time.Second)
	if err != nil {
		return SOSConfig{}, err
	}
	shareTimeout, err := parseDurationMsEnv("SOS_SHARE_TIMEOUT_MS", 5*time.Second)
	if err != nil {
		return SOSConfig{}, err
	}
	alertTimeout, err := parseDurationMsEnv("SOS_ALERT_TIMEOUT_MS", 2*time.Second)
	if err != nil {
		return SOSConfig{}, err
	}
	return SOSConfig{FixTimeout: fixTimeout, ShareTimeout: shareTimeout, AlertTimeout: alertTimeout}, nil
}

// DeviceConfig 描述设备桥接 websocket 的行为。
type DeviceConfig struct {
	RequestTimeout time.Duration
	PingInterval   time.Duration
}

func loadDeviceConfig() (DeviceConfig, error) {
	requestTimeout, err := parseDurationMsEnv("DEVICE_REQUEST_TIMEOUT_MS", 10*time.Second)
	if err != nil {
		return DeviceConfig{}, err
	}
	pingInterval, err := parseDurationMsEnv("DEVICE_PING_INTERVAL_MS", 30*time.Second)
	if err != nil {
		return DeviceConfig{}, err
	}
	return DeviceConfig{RequestTimeout: requestTimeout, PingInterval: pingInterval}, nil
}

// RateLimitConfig 描述按客户端 IP 的限流参数。
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	enabled, err := parseBoolEnv("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return RateLimitConfig{}, err
	}

	rps := 5.0
	if override, err := parseOptionalFloatEnv("RATE_LIMIT_RPS"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil && *override > 0 {
		rps = *override
	}

	burst := 10
	if override, err := parseOptionalIntEnv("RATE_LIMIT_BURST"); err != nil {
		return RateLimitConfig{}, err
	} else if override != nil && *override > 0 {
		burst = *override
	}

	return RateLimitConfig{Enabled: enabled, RPS: rps, Burst: burst}, nil
}

// CheckInConfig 描述安全签到计时器。
type CheckInConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
}

func loadCheckInConfig() (CheckInConfig, error) {
	def := 30
	if override, err := parseOptionalIntEnv("CHECKIN_DEFAULT_MINUTES"); err != nil {
		return CheckInConfig{}, err
	} else if override != nil && *override > 0 {
		def = *override
	}

	max := 24 * 60
	if override, err := parseOptionalIntEnv("CHECKIN_MAX_MINUTES"); err != nil {
		return CheckInConfig{}, err
	} else if override != nil && *override > 0 {
		max = *override
	}
	if def > max {
		def = max
	}

	return CheckInConfig{
		DefaultDuration: time.Duration(def) * time.Minute,
		MaxDuration:     time.Duration(max) * time.Minute,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey                string
	AccessKey             string
	SecretKey             string
	Model                 string
	BaseURL               string
	Region                string
	Temperature           *float64
	TopP                  *float64
	MaxTokens             *int
	AssistantLLMEnabled   bool
	AssistantHistoryLimit int
}

// SpeechConfig 描述语音识别服务相关配置
type SpeechConfig struct {
	AppID       string
	AccessToken string
	BaseURL     string
	ASRModel    string
	ASRLanguage string
	Timeout     int
	Enabled     bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	assistantEnabled, err := parseBoolEnv("ASSISTANT_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	history := 6
	if historyOverride, err := parseOptionalIntEnv("ASSISTANT_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if historyOverride != nil {
		if *historyOverride < 1 {
			history = 1
		} else {
			history = *historyOverride
		}
	}

	return AIConfig{
		APIKey:                strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:             strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:             strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:                 strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:               getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:                getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:           temperature,
		TopP:                  topP,
		MaxTokens:             maxTokens,
		AssistantLLMEnabled:   assistantEnabled,
		AssistantHistoryLimit: history,
	}, nil
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", ""),
		ASRModel:    getEnvOrDefault("SPEECH_ASR_MODEL", ""),
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationMsEnv 读取以毫秒表示的时长，非正值回退到默认值。
func parseDurationMsEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil || *ms <= 0 {
		return defaultValue, nil
	}
	return time.Duration(*ms) * time.Millisecond, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
