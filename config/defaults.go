package config

import "time"

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root: "/var/lib/toolgate/workspaces",
		},
		Session: SessionConfig{
			MaxSessions: 256,
			IdleTTL:     30 * time.Minute,
		},
		Command: CommandConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     120 * time.Second,
			MaxOutputChars: 100_000,
		},
		CodeRun: CodeRunConfig{
			DefaultTimeout: 30 * time.Second,
			MaxTimeout:     120 * time.Second,
		},
		SandboxRPC: SandboxRPCConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 60 * time.Second,
		},
		Fetch: FetchConfig{
			RequestTimeout: 15 * time.Second,
			MaxConcurrency: 5,
			TotalCharsCap:  200_000,
			MaxPageChars:   50_000,
			CacheAddr:      "localhost:6379",
			CacheTTL:       30 * time.Minute,
		},
		Search: SearchConfig{
			Timeout:    10 * time.Second,
			MaxResults: 10,
		},
		APITool: APIToolConfig{
			Timeout:                 30 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerRecoveryTimeout:  60 * time.Second,
			RateCalls:               60,
			RateWindow:              time.Minute,
		},
		Audit: AuditConfig{
			Path: "/var/lib/toolgate/audit.db",
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
	}
}
