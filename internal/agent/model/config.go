package model

import "time"

// ================ Config ================
type RecognitionConfig struct {
	APIKey        string        `envconfig:"YANDEX_API_KEY" required:"true"`
	FolderID      string        `envconfig:"YANDEX_FOLDER_ID" required:"true"`
	URL           string        `envconfig:"YANDEX_VISION_URL" default:"https://vision.api.cloud.yandex.net/vision/v1/batchAnalyze"`
	Languages     []string      `envconfig:"OCR_LANGUAGES" default:"ru,en"`
	Timeout       time.Duration `envconfig:"OCR_TIMEOUT" default:"30s"`
	MaxImageBytes int64         `envconfig:"OCR_MAX_IMAGE_BYTES" default:"10485760"`
}

type AnalysisModelConfig struct {
	APIKey         string        `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL        string        `envconfig:"GEMINI_BASE_URL"`
	Model          string        `envconfig:"ANALYSIS_MODEL" default:"gemini-2.5-flash"`
	MaxTokens      int           `envconfig:"ANALYSIS_MAX_TOKENS" default:"2048"`
	Temperature    float32       `envconfig:"ANALYSIS_TEMPERATURE" default:"0.7"`
	ThinkingBudget int32         `envconfig:"ANALYSIS_THINKING_BUDGET" default:"0"`
	Timeout        time.Duration `envconfig:"ANALYSIS_TIMEOUT" default:"30s"`
}

type SessionConfig struct {
	Backend string        `envconfig:"SESSION_BACKEND" default:"memory"`
	TTL     time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

type HistoryConfig struct {
	DatabasePath string `envconfig:"DATABASE_PATH" default:"labelspy.db"`
	Limit        int    `envconfig:"HISTORY_LIMIT" default:"10"`
	ExcerptLen   int    `envconfig:"HISTORY_EXCERPT_LEN" default:"500"`
}

type ConversationConfig struct {
	PreviewLen int `envconfig:"PREVIEW_LEN" default:"200"`
	RateLimit  struct {
		PerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"6"`
		Burst     int `envconfig:"RATE_LIMIT_BURST" default:"3"`
	}
}
