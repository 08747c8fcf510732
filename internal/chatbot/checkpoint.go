package chatbot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"dynamic-chatbot/internal/nn"
)

const (
	checkpointIndexFile = "checkpoint"
	hparamsFile         = "hparams.yaml"
	checkpointsKept     = 5
)

// checkpointState is the serialized training state.
type checkpointState struct {
	Step         int
	LearningRate float64
	LossHistory  []float64
	Params       map[string]savedParam
}

type savedParam struct {
	Rows int
	Cols int
	Data []float64
}

// checkpointIndex names the latest checkpoint and those still on disk,
// oldest first.
type checkpointIndex struct {
	Latest string   `yaml:"latest"`
	All    []string `yaml:"all"`
}

func snapshotParams(params []*nn.Param) map[string]savedParam {
	saved := make(map[string]savedParam, len(params))
	for _, p := range params {
		saved[p.Name] = savedParam{Rows: p.W.Rows, Cols: p.W.Cols, Data: append([]float64(nil), p.W.Data...)}
	}
	return saved
}

func restoreParams(params []*nn.Param, saved map[string]savedParam) error {
	for _, p := range params {
		s, ok := saved[p.Name]
		if !ok {
			return errors.Errorf("checkpoint has no parameter %q", p.Name)
		}
		if s.Rows != p.W.Rows || s.Cols != p.W.Cols {
			return errors.Errorf("parameter %q is %dx%d in checkpoint but %dx%d in model (hyperparameters changed? use --reset_model)",
				p.Name, s.Rows, s.Cols, p.W.Rows, p.W.Cols)
		}
		if len(s.Data) != s.Rows*s.Cols {
			return errors.Errorf("parameter %q holds %d values in checkpoint, want %d (corrupt checkpoint?)",
				p.Name, len(s.Data), s.Rows*s.Cols)
		}
		copy(p.W.Data, s.Data)
	}
	return nil
}

func readCheckpointIndex(dir string) (*checkpointIndex, error) {
	b, err := os.ReadFile(filepath.Join(dir, checkpointIndexFile))
	if err != nil {
		return nil, err
	}
	index := &checkpointIndex{}
	if err := yaml.Unmarshal(b, index); err != nil {
		return nil, errors.Wrap(err, "parse checkpoint index")
	}
	return index, nil
}

// saveCheckpoint writes state as model.ckpt-<step>.gob, updates the index
// and prunes all but the newest checkpointsKept files.
func saveCheckpoint(dir string, state *checkpointState) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create checkpoint directory")
	}
	name := fmt.Sprintf("model.ckpt-%d.gob", state.Step)
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrap(err, "create checkpoint")
	}
	if err := gob.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", errors.Wrap(err, "encode checkpoint")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "write checkpoint")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, "commit checkpoint")
	}

	index, err := readCheckpointIndex(dir)
	if err != nil {
		index = &checkpointIndex{}
	}
	all := make([]string, 0, len(index.All)+1)
	for _, n := range index.All {
		if n != name {
			all = append(all, n)
		}
	}
	all = append(all, name)
	for len(all) > checkpointsKept {
		os.Remove(filepath.Join(dir, all[0]))
		all = all[1:]
	}
	index.Latest, index.All = name, all
	b, err := yaml.Marshal(index)
	if err != nil {
		return "", errors.Wrap(err, "encode checkpoint index")
	}
	if err := os.WriteFile(filepath.Join(dir, checkpointIndexFile), b, 0o644); err != nil {
		return "", errors.Wrap(err, "write checkpoint index")
	}
	return path, nil
}

// loadLatestCheckpoint returns nil, nil when dir holds no checkpoint.
func loadLatestCheckpoint(dir string) (*checkpointState, error) {
	index, err := readCheckpointIndex(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(index.Latest) == 0 {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(dir, index.Latest))
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()
	state := &checkpointState{}
	if err := gob.NewDecoder(f).Decode(state); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", index.Latest)
	}
	return state, nil
}

func writeHparams(dir string, opts Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}
	b, err := yaml.Marshal(opts)
	if err != nil {
		return errors.Wrap(err, "encode hyperparameters")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, hparamsFile), b, 0o644), "write hyperparameters")
}
