package chatbot

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dynamic-chatbot/internal/data"
)

func TestNormalizeDecodeForcesResetOff(t *testing.T) {
	tests := []struct {
		decode, reset bool
		wantReset     bool
		wantWarnings  int
	}{
		{decode: true, reset: true, wantReset: false, wantWarnings: 1},
		{decode: true, reset: false, wantReset: false},
		{decode: false, reset: true, wantReset: true},
		{decode: false, reset: false, wantReset: false},
	}
	for _, tt := range tests {
		f := DefaultFlags()
		f.Decode, f.ResetModel = tt.decode, tt.reset
		warnings := f.Normalize()
		if f.ResetModel != tt.wantReset || len(warnings) != tt.wantWarnings {
			t.Errorf("decode=%v reset=%v: got reset=%v warnings=%q", tt.decode, tt.reset, f.ResetModel, warnings)
		}
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	config, err := ParseFlags("test", nil)
	if err != nil {
		t.Fatal(err)
	}
	f := config.Flags
	if f.CkptDir != "out" || f.Dataset != "cornell" || f.ResetModel || f.Decode ||
		f.StepsPerCkpt != 200 || f.BatchSize != 32 || f.VocabSize != 40000 ||
		f.StateSize != 256 || f.EmbedSize != 64 || f.NbEpoch != 10 ||
		f.LearningRate != 0.6 || f.LRDecay != 0.95 || f.MaxGradient != 5.0 || f.Temperature != 0.01 {
		t.Fatalf("unexpected defaults: %+v", f)
	}
}

func TestParseFlagsDecodeWithReset(t *testing.T) {
	config, err := ParseFlags("test", []string{"-decode", "-reset_model"})
	if err != nil {
		t.Fatal(err)
	}
	if config.Flags.ResetModel || !config.Flags.Decode || len(config.Warnings) != 1 {
		t.Fatalf("got %+v, warnings %q", config.Flags, config.Warnings)
	}
}

func TestParseFlagsUnknownDataset(t *testing.T) {
	_, err := ParseFlags("test", []string{"-dataset", "reddit"})
	if !errors.Is(err, data.ErrUnknownDataset) {
		t.Fatalf("error = %v, want ErrUnknownDataset", err)
	}
}

func TestParseFlagsRejectsNonPositiveSizes(t *testing.T) {
	if _, err := ParseFlags("test", []string{"-batch_size", "0"}); err == nil {
		t.Fatal("expected error for zero batch size")
	}
}

func TestValidateReportsFirstInvalidFlag(t *testing.T) {
	for range 20 {
		f := DefaultFlags()
		f.BatchSize, f.StateSize, f.NbEpoch = 0, 0, 0
		err := f.Validate()
		if err == nil || !strings.Contains(err.Error(), "--batch_size") {
			t.Fatalf("error = %v, want one about --batch_size", err)
		}
	}
}

func TestValidateCheckpointDir(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "empty", args: []string{"-ckpt_dir", ""}, wantErr: true},
		{name: "reset working dir", args: []string{"-reset_model", "-ckpt_dir", "."}, wantErr: true},
		{name: "reset parent dir", args: []string{"-reset_model", "-ckpt_dir", ".."}, wantErr: true},
		{name: "reset holding data", args: []string{"-reset_model", "-ckpt_dir", "work", "-data_dir", "work/data"}, wantErr: true},
		{name: "reset data dir", args: []string{"-reset_model", "-ckpt_dir", "data", "-data_dir", "data"}, wantErr: true},
		{name: "reset sibling", args: []string{"-reset_model", "-ckpt_dir", "out", "-data_dir", "data"}},
		{name: "no reset", args: []string{"-ckpt_dir", "."}},
		{name: "chat ignores reset", args: []string{"-decode", "-reset_model", "-ckpt_dir", "."}},
	}
	for _, tt := range tests {
		_, err := ParseFlags("test", tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseFlagsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatbot.yaml")
	content := `
flags:
  dataset: ubuntu
  batch_size: 64
  temperature: 0.5
web:
  sessionKey: secret
  tokenClaims:
    userName: name
reference:
  baseUrl: http://localhost:4000/v1
  model: gpt-test
  systemPrompt: WW91IGFyZSBoZWxwZnVsLg==
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	config, err := ParseFlags("test", []string{"-config", path, "-batch_size", "16"})
	if err != nil {
		t.Fatal(err)
	}
	if config.Flags.Dataset != "ubuntu" || config.Flags.Temperature != 0.5 {
		t.Errorf("file values not applied: %+v", config.Flags)
	}
	if config.Flags.BatchSize != 16 {
		t.Errorf("command line should win, batch_size = %d", config.Flags.BatchSize)
	}
	if config.Flags.StateSize != 256 {
		t.Errorf("unset values should keep defaults, state_size = %d", config.Flags.StateSize)
	}
	if config.Web.SessionKey != "secret" || config.Web.TokenClaims.UserName != "name" {
		t.Errorf("web config = %+v", config.Web)
	}
	if !config.Reference.Enabled() || config.Reference.SystemPrompt != "You are helpful." {
		t.Errorf("reference config = %+v", config.Reference)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("reference:\n  systemPrompt: '***'\n"), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for invalid base64 system prompt")
	}
}

func TestTemperatureRemark(t *testing.T) {
	tests := []struct {
		temperature float64
		want        string
	}{
		{0.01, "Not very adventurous, are we?"},
		{0.09, "Not very adventurous, are we?"},
		{0.1, "This should be interesting . . . "},
		{0.69, "This should be interesting . . . "},
		{0.7, "Enjoy your gibberish!"},
		{2, "Enjoy your gibberish!"},
	}
	for _, tt := range tests {
		if got := TemperatureRemark(tt.temperature); got != tt.want {
			t.Errorf("TemperatureRemark(%v) = %q, want %q", tt.temperature, got, tt.want)
		}
	}
}
