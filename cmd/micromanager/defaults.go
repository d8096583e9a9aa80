package main

import (
	"github.com/spf13/viper"

	"github.com/sebastian-lehto/micromanager-agent/internal/workplan"
)

func initViperDefaults() {
	viper.SetDefault("server.bind", "127.0.0.1")
	viper.SetDefault("server.port", 8787)
	viper.SetDefault("server.token", "")
	viper.SetDefault("server.jwt_secret", "")
	viper.SetDefault("server.profile_tier", "free")

	viper.SetDefault("api.base_url", "http://127.0.0.1:8787")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.user_id", "")

	viper.SetDefault("workflow.endpoint", "")

	viper.SetDefault("workplan.days", workplan.DefaultDays)
	viper.SetDefault("workplan.limit", workplan.DefaultLimit)
	viper.SetDefault("workplan.mock_path", "")
	viper.SetDefault("workplan.cache_path", "")

	viper.SetDefault("realtime.endpoint", "")

	viper.SetDefault("db.dsn", "")

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("verbose", false)
}
