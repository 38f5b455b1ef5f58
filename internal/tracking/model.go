package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Files written into the model folder of a run.
const (
	ModelFolder      = "model"
	MLModelFile      = "MLmodel"
	ModelDataFile    = "model.pb"
	InputExampleFile = "input_example.json"

	// FlavorName identifies models loadable by this project.
	FlavorName = "go_logreg"
)

// #region signature
// TensorSpec describes one named or positional tensor of a model signature.
type TensorSpec struct {
	Type string     `json:"type"`
	Spec TensorInfo `json:"tensor-spec"`
}

type TensorInfo struct {
	DType string `json:"dtype"`
	Shape []int  `json:"shape"`
}

// Signature is the input/output schema recorded with a model.
type Signature struct {
	Inputs  []TensorSpec
	Outputs []TensorSpec
}

// InferSignature derives a schema from an input example and the model's
// predictions for it. The batch dimension is recorded as -1.
func InferSignature(example [][]float64, predictions []int) (Signature, error) {
	if len(example) == 0 {
		return Signature{}, fmt.Errorf("infer signature: empty input example")
	}
	width := len(example[0])
	for i, row := range example {
		if len(row) != width {
			return Signature{}, fmt.Errorf("infer signature: row %d has %d columns, want %d", i, len(row), width)
		}
	}
	if len(predictions) != len(example) {
		return Signature{}, fmt.Errorf("infer signature: %d predictions for %d rows", len(predictions), len(example))
	}
	return Signature{
		Inputs:  []TensorSpec{{Type: "tensor", Spec: TensorInfo{DType: "float64", Shape: []int{-1, width}}}},
		Outputs: []TensorSpec{{Type: "tensor", Spec: TensorInfo{DType: "int64", Shape: []int{-1}}}},
	}, nil
}

// #endregion signature

// #region mlmodel
// MLModel is the YAML descriptor stored next to the model data. Signature
// columns are JSON strings, as MLflow writes them.
type MLModel struct {
	ArtifactPath          string                  `yaml:"artifact_path"`
	Flavors               map[string]FlavorConfig `yaml:"flavors"`
	ModelUUID             string                  `yaml:"model_uuid"`
	RunID                 string                  `yaml:"run_id"`
	SavedInputExampleInfo *InputExampleInfo       `yaml:"saved_input_example_info,omitempty"`
	Signature             map[string]string       `yaml:"signature,omitempty"`
	UTCTimeCreated        string                  `yaml:"utc_time_created"`
}

type FlavorConfig struct {
	ModelKind string `yaml:"model_kind"`
	Data      string `yaml:"data"`
	Encoding  string `yaml:"encoding"`
}

type InputExampleInfo struct {
	ArtifactPath string `yaml:"artifact_path"`
	Type         string `yaml:"type"`
	Format       string `yaml:"serving_input_format,omitempty"`
}

// ParseSignature decodes the JSON columns of the descriptor.
func (m MLModel) ParseSignature() (Signature, error) {
	var sig Signature
	if err := json.Unmarshal([]byte(m.Signature["inputs"]), &sig.Inputs); err != nil {
		return Signature{}, fmt.Errorf("signature inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(m.Signature["outputs"]), &sig.Outputs); err != nil {
		return Signature{}, fmt.Errorf("signature outputs: %w", err)
	}
	return sig, nil
}

func newMLModel(kind, runID string, sig Signature, created time.Time) (MLModel, error) {
	in, err := json.Marshal(sig.Inputs)
	if err != nil {
		return MLModel{}, err
	}
	out, err := json.Marshal(sig.Outputs)
	if err != nil {
		return MLModel{}, err
	}
	return MLModel{
		ArtifactPath: ModelFolder,
		Flavors: map[string]FlavorConfig{
			FlavorName: {ModelKind: kind, Data: ModelDataFile, Encoding: "protobuf-struct"},
		},
		ModelUUID: strings.ReplaceAll(uuid.New().String(), "-", ""),
		RunID:     runID,
		SavedInputExampleInfo: &InputExampleInfo{
			ArtifactPath: InputExampleFile,
			Type:         "ndarray",
			Format:       "tensor",
		},
		Signature:      map[string]string{"inputs": string(in), "outputs": string(out)},
		UTCTimeCreated: created.UTC().Format("2006-01-02 15:04:05.000000"),
	}, nil
}

// #endregion mlmodel

// #region log-model
// LogModel packages model into the run's model folder and registers a new
// version of catalogName whose source is that folder. inputExample is kept
// with the model and used to infer its signature.
func (r *Recorder) LogModel(ctx context.Context, run *Run, model Model, inputExample [][]float64, catalogName string) (ModelVersion, error) {
	if err := writable(run); err != nil {
		return ModelVersion{}, err
	}

	sig, err := InferSignature(inputExample, model.Predict(inputExample))
	if err != nil {
		return ModelVersion{}, fmt.Errorf("log model: %w", err)
	}
	desc, err := newMLModel(model.Kind(), run.ID(), sig, r.now())
	if err != nil {
		return ModelVersion{}, fmt.Errorf("log model: descriptor: %w", err)
	}

	staging, err := os.MkdirTemp("", "irisgate-model-")
	if err != nil {
		return ModelVersion{}, fmt.Errorf("log model: staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	files, err := stageModel(staging, model, desc, inputExample)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("log model: %w", err)
	}
	for _, name := range files {
		ap := path.Join(ModelFolder, name)
		if err := r.backend.UploadArtifact(ctx, run.Info, filepath.Join(staging, name), ap); err != nil {
			return ModelVersion{}, fmt.Errorf("log model: upload %s: %w", ap, err)
		}
	}

	source := strings.TrimSuffix(run.Info.ArtifactURI, "/") + "/" + ModelFolder
	mv, err := r.backend.RegisterModelVersion(ctx, catalogName, source, run.ID())
	if err != nil {
		return ModelVersion{}, fmt.Errorf("log model: register %q: %w", catalogName, err)
	}
	log.Printf("[TRACK] registered %s version %s from %s", mv.Name, mv.Version, source)
	return mv, nil
}

// stageModel writes the model folder into dir and returns its file names.
func stageModel(dir string, model Model, desc MLModel, inputExample [][]float64) ([]string, error) {
	data, err := model.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("serialize model: %w", err)
	}
	yml, err := yaml.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", MLModelFile, err)
	}
	example, err := json.Marshal(map[string][][]float64{"inputs": inputExample})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", InputExampleFile, err)
	}

	files := []struct {
		name string
		body []byte
	}{
		{MLModelFile, yml},
		{ModelDataFile, data},
		{InputExampleFile, example},
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), f.body, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		names = append(names, f.name)
	}
	return names, nil
}

// #endregion log-model
