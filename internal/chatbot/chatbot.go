package chatbot

import (
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dynamic-chatbot/internal/data"
)

// Flags are the command-line hyperparameters. The yaml tags match the flag
// names so a config file can carry the same settings under "flags".
type Flags struct {
	Config       string  `yaml:"-"`
	CkptDir      string  `yaml:"ckpt_dir"`
	Dataset      string  `yaml:"dataset"`
	DataDir      string  `yaml:"data_dir"`
	ResetModel   bool    `yaml:"reset_model"`
	Decode       bool    `yaml:"decode"`
	StepsPerCkpt int     `yaml:"steps_per_ckpt"`
	BatchSize    int     `yaml:"batch_size"`
	VocabSize    int     `yaml:"vocab_size"`
	StateSize    int     `yaml:"state_size"`
	EmbedSize    int     `yaml:"embed_size"`
	MaxSeqLen    int     `yaml:"max_seq_len"`
	NbEpoch      int     `yaml:"nb_epoch"`
	LearningRate float64 `yaml:"learning_rate"`
	LRDecay      float64 `yaml:"lr_decay"`
	MaxGradient  float64 `yaml:"max_gradient"`
	Temperature  float64 `yaml:"temperature"`
	Serve        bool    `yaml:"serve"`
	Listen       string  `yaml:"listen"`
	StaticPath   string  `yaml:"static_path"`
}

func DefaultFlags() Flags {
	return Flags{
		CkptDir:      "out",
		Dataset:      "cornell",
		DataDir:      "data",
		StepsPerCkpt: 200,
		BatchSize:    32,
		VocabSize:    40000,
		StateSize:    256,
		EmbedSize:    64,
		MaxSeqLen:    30,
		NbEpoch:      10,
		LearningRate: 0.6,
		LRDecay:      0.95,
		MaxGradient:  5.0,
		Temperature:  0.01,
		Listen:       ":8080",
	}
}

// Register binds every field to a flag of fs, using the current values as
// defaults.
func (f *Flags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.Config, "config", f.Config, "Optional YAML configuration file; command-line flags take precedence.")
	// String flags -- directories and dataset name(s).
	fs.StringVar(&f.CkptDir, "ckpt_dir", f.CkptDir, "Directory in which checkpoint files will be saved.")
	fs.StringVar(&f.Dataset, "dataset", f.Dataset, "Dataset to use. 'ubuntu', 'cornell', or 'wmt'.")
	fs.StringVar(&f.DataDir, "data_dir", f.DataDir, "Directory holding one sub-directory per dataset.")
	// Boolean flags.
	fs.BoolVar(&f.ResetModel, "reset_model", f.ResetModel, "wipe output directory; new params")
	fs.BoolVar(&f.Decode, "decode", f.Decode, "If true, initiates chat session.")
	fs.BoolVar(&f.Serve, "serve", f.Serve, "With -decode, chat through the web UI instead of the terminal.")
	// Integer flags.
	fs.IntVar(&f.StepsPerCkpt, "steps_per_ckpt", f.StepsPerCkpt, "How many training steps to do per checkpoint.")
	fs.IntVar(&f.BatchSize, "batch_size", f.BatchSize, "Batch size to use during training.")
	fs.IntVar(&f.VocabSize, "vocab_size", f.VocabSize, "Number of unique words/tokens to use.")
	fs.IntVar(&f.StateSize, "state_size", f.StateSize, "Number of units in the RNN cell.")
	fs.IntVar(&f.EmbedSize, "embed_size", f.EmbedSize, "Size of word embedding dimension.")
	fs.IntVar(&f.MaxSeqLen, "max_seq_len", f.MaxSeqLen, "Maximum number of tokens per utterance.")
	fs.IntVar(&f.NbEpoch, "nb_epoch", f.NbEpoch, "Number of epochs over full train set to run.")
	// Float flags -- hyperparameters.
	fs.Float64Var(&f.LearningRate, "learning_rate", f.LearningRate, "Learning rate.")
	fs.Float64Var(&f.LRDecay, "lr_decay", f.LRDecay, "Decay factor applied to learning rate.")
	fs.Float64Var(&f.MaxGradient, "max_gradient", f.MaxGradient, "Clip gradients to this value.")
	fs.Float64Var(&f.Temperature, "temperature", f.Temperature, "Sampling temperature.")
	// Web chat.
	fs.StringVar(&f.Listen, "listen", f.Listen, "Web chat listen address.")
	fs.StringVar(&f.StaticPath, "static_path", f.StaticPath, "Optional directory served under /static.")
}

// Normalize resolves conflicting settings and returns a warning for each
// setting it changed.
func (f *Flags) Normalize() (warnings []string) {
	if f.Decode && f.ResetModel {
		warnings = append(warnings, "To chat, should pass --reset_model=false, but found true. Resetting to false.")
		f.ResetModel = false
	}
	return
}

func (f *Flags) Validate() error {
	if _, err := data.Lookup(f.Dataset); err != nil {
		return err
	}
	if len(f.CkptDir) == 0 {
		return fmt.Errorf("--ckpt_dir must not be empty")
	}
	positive := []struct {
		name  string
		value int
	}{
		{"steps_per_ckpt", f.StepsPerCkpt},
		{"batch_size", f.BatchSize},
		{"vocab_size", f.VocabSize},
		{"state_size", f.StateSize},
		{"embed_size", f.EmbedSize},
		{"nb_epoch", f.NbEpoch},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("--%s must be positive, got %d", p.name, p.value)
		}
	}
	if f.LearningRate <= 0 {
		return fmt.Errorf("--learning_rate must be positive, got %g", f.LearningRate)
	}
	if f.LRDecay <= 0 || f.LRDecay > 1 {
		return fmt.Errorf("--lr_decay must be in (0, 1], got %g", f.LRDecay)
	}
	if f.ResetModel {
		if err := checkResettable(f.CkptDir, f.DataDir); err != nil {
			return err
		}
	}
	return nil
}

// checkResettable refuses a checkpoint directory whose removal would also
// remove the working directory or any of the protected paths.
func checkResettable(ckptDir string, protected ...string) error {
	if len(ckptDir) == 0 {
		return fmt.Errorf("refusing to reset an empty checkpoint directory")
	}
	ckpt, err := filepath.Abs(ckptDir)
	if err != nil {
		return fmt.Errorf("failed to resolve checkpoint directory: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	for _, p := range append([]string{wd}, protected...) {
		if len(p) == 0 {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		if containsPath(ckpt, abs) {
			return fmt.Errorf("refusing to reset %s: it contains %s", ckptDir, p)
		}
	}
	return nil
}

// containsPath reports whether path is dir or lies beneath it. Both must be
// absolute.
func containsPath(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type tokenClaims struct {
	UserLogin string `yaml:"userLogin" json:"userLogin"`
	UserName  string `yaml:"userName"  json:"userName"`
}

// WebConfig configures the web chat server.
type WebConfig struct {
	SessionKey  string      `yaml:"sessionKey"`
	TokenClaims tokenClaims `yaml:"tokenClaims"`
}

// ReferenceConfig points at an OpenAI-compatible endpoint whose answers are
// shown next to the bot's in the web chat.
type ReferenceConfig struct {
	BaseUrl      string `yaml:"baseUrl"`
	ApiKey       string `yaml:"apiKey"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
}

func (r ReferenceConfig) Enabled() bool {
	return len(r.BaseUrl) > 0 && len(r.Model) > 0
}

// Config is the optional YAML configuration file.
type Config struct {
	Flags     Flags           `yaml:"flags"`
	Web       WebConfig       `yaml:"web"`
	Reference ReferenceConfig `yaml:"reference"`

	// Warnings collects the adjustments made by Flags.Normalize.
	Warnings []string `yaml:"-"`
}

// LoadConfig reads a YAML configuration file. Settings absent from the file
// keep their defaults.
func LoadConfig(configPath string) (config *Config, err error) {
	var b []byte
	if b, err = os.ReadFile(configPath); err != nil {
		err = fmt.Errorf("failed to read ChatBot configuration: ReadFile() failure: %w", err)
		return
	}
	config = &Config{Flags: DefaultFlags()}
	if err = yaml.Unmarshal(b, config); err != nil {
		err = fmt.Errorf("failed to parse ChatBot configuration: Unmarshal() failure: %w", err)
		return
	}
	if len(config.Reference.SystemPrompt) > 0 {
		if b, err = base64.StdEncoding.DecodeString(config.Reference.SystemPrompt); err != nil {
			err = fmt.Errorf("error decoding reference SystemPrompt: %w", err)
			return
		}
		config.Reference.SystemPrompt = string(b)
	}
	if len(config.Reference.ApiKey) == 0 {
		config.Reference.ApiKey = os.Getenv("REFERENCE_API_KEY")
	}
	return
}

// ParseFlags parses args into a Config. When -config names a file, the file
// is loaded first and the command line is parsed again on top of it so that
// explicit flags win.
func ParseFlags(name string, args []string) (*Config, error) {
	flags := DefaultFlags()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.Register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	config := &Config{Flags: flags}
	if len(flags.Config) > 0 {
		var err error
		if config, err = LoadConfig(flags.Config); err != nil {
			return nil, err
		}
		config.Flags.Config = flags.Config
		fs = flag.NewFlagSet(name, flag.ContinueOnError)
		config.Flags.Register(fs)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}
	config.Warnings = config.Flags.Normalize()
	if err := config.Flags.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// TemperatureRemark comments on how adventurous a sampling temperature is.
func TemperatureRemark(temperature float64) string {
	switch {
	case temperature < 0.1:
		return "Not very adventurous, are we?"
	case temperature < 0.7:
		return "This should be interesting . . . "
	default:
		return "Enjoy your gibberish!"
	}
}
