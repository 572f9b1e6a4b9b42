package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			WebhookPath:       "/chat",
			MaxUploadBytes:    32 << 20,
			PushRatePerMinute: 120,
			PushBurst:         20,
		},
		Driver: DriverConfig{
			MatchingData: map[string]string{"driver": "web"},
		},
		Storage: StorageConfig{
			Root:           "~/.chatbridge/storage",
			CacheDir:       "bot_file_cache",
			PublicURL:      "http://127.0.0.1:8080",
			PublicPrefix:   "/core/storage/app",
			ImageMaxWidth:  600,
			ImageMaxHeight: 600,
		},
		Realtime: RealtimeConfig{
			Backend: "memory",
			Event:   "chat_message",
		},
		Queue: QueueConfig{
			Backend:       "sqlite",
			DBPath:        "~/.chatbridge/queue.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Responder: ResponderConfig{
			Replies: map[string]string{
				"hi": "Hello! How can I help?",
			},
		},
	}
}
