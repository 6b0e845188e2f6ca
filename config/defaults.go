package config

import (
	"github.com/spf13/viper"
)

// Default listen port. High and unprivileged; easy to type.
const DefaultListenAddr = ":8077"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", DefaultListenAddr)
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.max_clients", 0)

	// Model defaults
	v.SetDefault("models.default_mode", "balanced")
	v.SetDefault("models.dir", "models")
	v.SetDefault("models.onnx_library_path", "")
	v.SetDefault("models.use_gpu", false)
	v.SetDefault("models.intra_op_threads", 0)
	v.SetDefault("models.inter_op_threads", 0)
	v.SetDefault("models.prewarm", []string{})

	// Frame admission defaults
	v.SetDefault("pipeline.max_in_flight", 2)
	v.SetDefault("pipeline.min_interval_ms", 33) // ~30 FPS ceiling per client

	// Engine defaults
	v.SetDefault("engine.warmup_iterations", 3)

	// Session defaults
	v.SetDefault("session.idle_timeout_seconds", 10)

	// Reply defaults
	v.SetDefault("reply.jpeg_quality", 60)
	v.SetDefault("reply.max_width", 960)
	v.SetDefault("reply.max_height", 540)
}
