package config

// Config is the root configuration for the omnidesk server.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Media      MediaConfig      `json:"media"`
	Channels   ChannelsConfig   `json:"channels"`
	Assignment AssignmentConfig `json:"assignment"`
	Automation AutomationConfig `json:"automation"`
	Tracing    TracingConfig    `json:"tracing"`
	Verbose    bool             `json:"verbose"`
}

// GatewayConfig configures the agent-facing WebSocket/HTTP server.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token"` // bearer credential for agent connections
	RateLimitRPM   int      `json:"rate_limit_rpm"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// DatabaseConfig selects the storage backend. PostgresDSN set → managed
// mode (Postgres); otherwise the standalone SQLite file is used.
type DatabaseConfig struct {
	PostgresDSN string `json:"postgres_dsn,omitempty"`
	SQLitePath  string `json:"sqlite_path"`
}

// MediaConfig controls inbound media persistence.
type MediaConfig struct {
	Dir              string `json:"dir"`
	MaxDownloadBytes int64  `json:"max_download_bytes"`
	Thumbnails       bool   `json:"thumbnails"`
}

// ChannelsConfig groups the per-channel adapter configs.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Meta     MetaConfig     `json:"meta"`
	Email    EmailConfig    `json:"email"`
}

// WhatsAppConfig configures the chat-protocol session manager.
type WhatsAppConfig struct {
	Enabled         bool   `json:"enabled"`
	BridgeURL       string `json:"bridge_url"`
	CredentialsPath string `json:"credentials_path"`
}

// MetaConfig configures the Instagram/Messenger webhook ingestor and the
// Graph-API sender.
type MetaConfig struct {
	Enabled     bool   `json:"enabled"`
	VerifyToken string `json:"verify_token"`
	PageToken   string `json:"page_token"`
	GraphURL    string `json:"graph_url"` // override for tests
}

// EmailConfig configures the mailbox poller accounts.
type EmailConfig struct {
	Enabled  bool           `json:"enabled"`
	Accounts []EmailAccount `json:"accounts,omitempty"`
}

// EmailAccount is one polled mailbox plus its SMTP identity for replies.
type EmailAccount struct {
	Name     string `json:"name"`
	IMAPAddr string `json:"imap_addr"` // host:port, implicit TLS
	IMAPUser string `json:"imap_user"`
	IMAPPass string `json:"imap_pass"`
	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	SMTPUser string `json:"smtp_user"`
	SMTPPass string `json:"smtp_pass"`
	From     string `json:"from"`
	Schedule string `json:"schedule"` // cron expression, default every minute
}

// AssignmentConfig tunes the round-robin engine.
type AssignmentConfig struct {
	// AgentsOnly restricts assignment candidates to users with the "agent"
	// role. Off by default: historically any active online user could
	// receive assignments.
	AgentsOnly bool `json:"agents_only"`
}

// AutomationConfig configures the workflow engine and its AI provider.
type AutomationConfig struct {
	Enabled      bool       `json:"enabled"`
	HistoryLimit int        `json:"history_limit"` // messages of context for ai_reply
	AI           AIProvider `json:"ai"`
}

// AIProvider points at an OpenAI-compatible chat completions endpoint.
type AIProvider struct {
	APIBase string `json:"api_base"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

// TracingConfig enables the OTLP/HTTP trace exporter.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"` // host:port, no scheme
}
