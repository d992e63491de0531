// Package config loads the bpetrain command-line configuration from flags, environment variables
// (prefixed BPETRAIN_) and an optional bpetrain.toml file, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gomlx/go-bpe/tokenizers/api"
)

// EnvPrefix of the environment variables read by Load.
const EnvPrefix = "BPETRAIN"

// Config is the merged bpetrain configuration. The training fields map onto api.Options
// through TrainOptions; LogLevel and LogFile configure the command's own logging.
type Config struct {
	Input         string   `mapstructure:"input"`
	Output        string   `mapstructure:"output"`
	VocabSize     int      `mapstructure:"vocab_size"`
	SpecialTokens []string `mapstructure:"special_tokens"`
	Parallelism   int      `mapstructure:"parallelism"`
	Chunks        int      `mapstructure:"chunks"`
	Delimiter     string   `mapstructure:"delimiter"`
	Normalization string   `mapstructure:"normalization"`
	ProgressEvery int      `mapstructure:"progress_every"`
	Report        bool     `mapstructure:"report"`
	LogLevel      string   `mapstructure:"log_level"`
	LogFile       string   `mapstructure:"log_file"`
}

// flagKeys maps configuration keys to the flag names that set them.
var flagKeys = map[string]string{
	"input":          "input",
	"output":         "output",
	"vocab_size":     "vocab-size",
	"special_tokens": "special-tokens",
	"parallelism":    "parallelism",
	"chunks":         "chunks",
	"delimiter":      "delimiter",
	"normalization":  "normalization",
	"progress_every": "progress-every",
	"report":         "report",
	"log_level":      "log-level",
	"log_file":       "log-file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input", "")
	v.SetDefault("output", "tokenizer")
	v.SetDefault("vocab_size", 10_000)
	v.SetDefault("special_tokens", []string{api.DefaultDelimiter})
	v.SetDefault("parallelism", 0)
	v.SetDefault("chunks", 0)
	v.SetDefault("delimiter", "")
	v.SetDefault("normalization", "")
	v.SetDefault("progress_every", 1000)
	v.SetDefault("report", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
}

// RegisterFlags adds the persistent flags shared by all commands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Path to config file (default: bpetrain.toml in ., configs/ or ~/.config/bpetrain)")
	flags.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Log file path")
}

// RegisterTrainFlags adds the flags of the train command.
func RegisterTrainFlags(flags *pflag.FlagSet) {
	flags.StringP("input", "i", "", "Training corpus (UTF-8 text file)")
	flags.StringP("output", "o", "tokenizer", "Output directory for tokenizer.json, vocab.json and merges.txt")
	flags.IntP("vocab-size", "n", 10_000, "Target vocabulary size, including special tokens and the 256 bytes")
	flags.StringSlice("special-tokens", []string{api.DefaultDelimiter}, "Special tokens, never split nor merged")
	flags.IntP("parallelism", "p", 0, "Number of pretokenization workers (default: number of CPUs)")
	flags.Int("chunks", 0, "Number of corpus chunks (default: parallelism)")
	flags.String("delimiter", "", "Chunk boundary delimiter (default: first special token)")
	flags.String("normalization", "", "Unicode normalization applied before pretokenization (NFC, NFD, NFKC, NFKD)")
	flags.Int("progress-every", 1000, "Log progress every that many merges, 0 to disable")
	flags.Bool("report", true, "Write training.json next to the exported tokenizer")
}

// Load merges the flags in flags (those not registered are ignored), the environment and the config file.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, name := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "failed to bind flag --%s", name)
			}
		}
	}

	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("bpetrain")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "bpetrain"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &cfg, nil
}

// TrainOptions converts the configuration to training options. Parallelism defaults to the number of CPUs
// given by numCPU.
func (c *Config) TrainOptions(numCPU int) api.Options {
	parallelism := c.Parallelism
	if parallelism <= 0 {
		parallelism = numCPU
	}
	return api.Options{
		VocabSize:     c.VocabSize,
		SpecialTokens: c.SpecialTokens,
		Parallelism:   parallelism,
		Chunks:        c.Chunks,
		Delimiter:     c.Delimiter,
		Normalization: c.Normalization,
		ProgressEvery: c.ProgressEvery,
	}
}

// Validate checks the fields that are not covered by api.Options.Validate.
func (c *Config) Validate() error {
	if c.Input == "" {
		return errors.New("no input corpus given (use --input, BPETRAIN_INPUT or input in the config file)")
	}
	if c.Output == "" {
		return errors.New("no output directory given")
	}
	return c.TrainOptions(1).Validate()
}
