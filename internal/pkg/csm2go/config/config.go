package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Backend        string  `mapstructure:"backend"`
	ModelPath      string  `mapstructure:"model_path"`
	ServerURL      string  `mapstructure:"server_url"`
	Device         string  `mapstructure:"device"`
	SampleRate     int     `mapstructure:"sample_rate"`
	Temperature    float32 `mapstructure:"temperature"`
	TopK           int     `mapstructure:"top_k"`
	MaxUtteranceMs int     `mapstructure:"max_utterance_ms"`
	SilenceMs      int     `mapstructure:"silence_ms"`
	SoundsDir      string  `mapstructure:"sounds_dir"`
	PromptsDir     string  `mapstructure:"prompts_dir"`
	Output         string  `mapstructure:"output"`
	LogLevel       string  `mapstructure:"log_level"`
	LogFile        string  `mapstructure:"log_file"`
	HubEndpoint    string  `mapstructure:"hub_endpoint"`
	HubRepo        string  `mapstructure:"hub_repo"`
	HubToken       string  `mapstructure:"hub_token"`
	TokenizerRepo  string  `mapstructure:"tokenizer_repo"`
	ModelsDir      string  `mapstructure:"models_dir"`
	Listen         string  `mapstructure:"listen"`
	RateLimitRPM   int     `mapstructure:"rate_limit_rpm"`
	VoiceCacheSize int     `mapstructure:"voice_cache_size"`
}

// flagKeys maps command-line flag names to config keys. Flags a command
// does not define are skipped.
var flagKeys = map[string]string{
	"backend":          "backend",
	"model":            "model_path",
	"server-url":       "server_url",
	"device":           "device",
	"sample-rate":      "sample_rate",
	"temperature":      "temperature",
	"top-k":            "top_k",
	"max-ms":           "max_utterance_ms",
	"silence-ms":       "silence_ms",
	"sounds-dir":       "sounds_dir",
	"prompts-dir":      "prompts_dir",
	"output":           "output",
	"log-level":        "log_level",
	"log-file":         "log_file",
	"endpoint":         "hub_endpoint",
	"repo":             "hub_repo",
	"token":            "hub_token",
	"tokenizer-repo":   "tokenizer_repo",
	"models-dir":       "models_dir",
	"listen":           "listen",
	"rate-limit":       "rate_limit_rpm",
	"voice-cache-size": "voice_cache_size",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "remote")
	v.SetDefault("model_path", "models")
	v.SetDefault("server_url", "http://localhost:8990")
	v.SetDefault("device", "auto")
	v.SetDefault("sample_rate", 0)
	v.SetDefault("temperature", 0.85)
	v.SetDefault("top_k", 50)
	v.SetDefault("max_utterance_ms", 15000)
	v.SetDefault("silence_ms", 500)
	v.SetDefault("sounds_dir", "sounds")
	v.SetDefault("prompts_dir", "prompts")
	v.SetDefault("output", "conversation.wav")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("hub_endpoint", "https://huggingface.co")
	v.SetDefault("hub_repo", "sesame/csm-1b")
	v.SetDefault("hub_token", "")
	v.SetDefault("tokenizer_repo", "meta-llama/Llama-3.2-1B")
	v.SetDefault("models_dir", "models")
	v.SetDefault("listen", "127.0.0.1:8080")
	v.SetDefault("rate_limit_rpm", 30)
	v.SetDefault("voice_cache_size", 32)
}

// RegisterFlags adds the flags shared by every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to config file")
	fs.StringP("backend", "b", "", "Engine backend (remote, onnx)")
	fs.StringP("model", "m", "", "Path to the ONNX model directory")
	fs.String("server-url", "", "Model server URL for the remote backend")
	fs.String("device", "", "Inference device (auto, cpu, cuda, coreml)")
	fs.Int("sample-rate", 0, "Expected engine sample rate (0 accepts the engine's)")
	fs.String("sounds-dir", "", "Directory of <name>.wav + <name>.txt voice pairs")
	fs.String("prompts-dir", "", "Directory holding the built-in prompts")
	fs.Int("voice-cache-size", 0, "Number of loaded reference voices kept in memory")
	fs.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Log file path")
}

// RegisterGenerationFlags adds the sampling flags of the generating commands.
func RegisterGenerationFlags(fs *pflag.FlagSet, defaultMaxMs int) {
	fs.Float32("temperature", 0.85, "Sampling temperature")
	fs.Int("top-k", 50, "Top-k sampling cutoff")
	fs.Int("max-ms", defaultMaxMs, "Maximum length of each generated utterance in ms")
	fs.StringP("output", "o", "", "Output WAV file")
}

func LoadAndParse(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
		// A non-zero flag default is the command's own default and takes
		// precedence over the global one.
		if !zeroDefault(f.DefValue) {
			v.SetDefault(key, f.DefValue)
		}
	}

	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if ext := filepath.Ext(configFile); ext == "" || ext == ".cfg" {
			v.SetConfigType("toml")
		}
	} else {
		v.SetConfigName("csm2go.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "csm2go"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("CSM2GO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func zeroDefault(s string) bool {
	switch s {
	case "", "0", "false", "[]":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	if c.Temperature <= 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in (0, 2], got %v", c.Temperature)
	}
	if c.MaxUtteranceMs <= 0 {
		return fmt.Errorf("max utterance length must be positive, got %d", c.MaxUtteranceMs)
	}
	if c.SilenceMs < 0 {
		return fmt.Errorf("silence must not be negative, got %d", c.SilenceMs)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", c.TopK)
	}
	if c.SampleRate < 0 {
		return fmt.Errorf("sample rate must not be negative, got %d", c.SampleRate)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.RateLimitRPM)
	}
	return nil
}

// ReadText returns the text from path, stdin when path is "-", or the joined
// args, in that order.
func ReadText(path string, args []string, stdin io.Reader) (string, error) {
	switch {
	case path == "-":
		content, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(content), nil
	case path != "":
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read text file: %w", err)
		}
		return string(content), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		return "", fmt.Errorf("text is required (use --file, '-' for stdin, or provide as argument)")
	}
}
