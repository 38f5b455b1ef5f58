// Package orchestrator runs one tracked, quality-gated training run.
package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/danielpatrickdp/irisgate/internal/config"
	"github.com/danielpatrickdp/irisgate/internal/dataset"
	"github.com/danielpatrickdp/irisgate/internal/eval"
	"github.com/danielpatrickdp/irisgate/internal/gate"
	"github.com/danielpatrickdp/irisgate/internal/logreg"
	"github.com/danielpatrickdp/irisgate/internal/plot"
	"github.com/danielpatrickdp/irisgate/internal/split"
	"github.com/danielpatrickdp/irisgate/internal/tracking"
)

// #endregion

// #region orchestrator-struct

// Orchestrator wires the dataset, trainer, evaluator, renderer, recorder
// and gate into a single linear run.
type Orchestrator struct {
	recorder *tracking.Recorder
	provider dataset.Provider
	trainer  Trainer
	renderer Renderer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProvider replaces the embedded Iris dataset.
func WithProvider(p dataset.Provider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithTrainer replaces logistic regression fitting.
func WithTrainer(t Trainer) Option {
	return func(o *Orchestrator) { o.trainer = t }
}

// WithRenderer replaces the confusion matrix renderer.
func WithRenderer(r Renderer) Option {
	return func(o *Orchestrator) { o.renderer = r }
}

// #endregion

// #region constructor

// NewOrchestrator creates an orchestrator that records through recorder.
func NewOrchestrator(recorder *tracking.Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		recorder: recorder,
		provider: dataset.Iris{},
		trainer:  fitLogReg,
		renderer: plot.ConfusionMatrix,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func fitLogReg(X [][]float64, y []int, p logreg.Params) (Model, error) {
	m, err := logreg.Fit(X, y, p)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// #endregion

// #region run

// Run validates cfg, then trains, evaluates, logs and gates one model.
// Nothing is loaded, trained or sent to the backend before validation
// passes. Once the run exists it is finalized FINISHED on success and
// FAILED otherwise.
func (o *Orchestrator) Run(ctx context.Context, cfg config.RunConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	ds, err := o.provider.Load()
	if err != nil {
		return Result{}, fmt.Errorf("load dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return Result{}, fmt.Errorf("load dataset: %w", err)
	}
	sp, err := split.Stratified(ds, cfg.TestSize, cfg.Seed)
	if err != nil {
		return Result{}, err
	}
	log.Printf("[RUN] split %d examples: train=%d test=%d seed=%d",
		ds.Len(), len(sp.TrainY), len(sp.TestY), cfg.Seed)

	run, err := o.recorder.StartRun(ctx, cfg.ExperimentName, cfg.RunLabel(), nil)
	if err != nil {
		return Result{}, err
	}
	res := Result{RunID: run.ID(), ExperimentID: run.Experiment.ID}

	res, err = o.record(ctx, run, cfg, ds, sp, res)
	if err != nil {
		o.markFailed(ctx, run, err)
		return res, err
	}
	if err := o.recorder.Finalize(ctx, run, tracking.StatusFinished); err != nil {
		return res, err
	}
	return res, nil
}

// record performs every step between StartRun and a successful Finalize.
func (o *Orchestrator) record(ctx context.Context, run *tracking.Run, cfg config.RunConfig,
	ds dataset.Dataset, sp split.Split, res Result) (Result, error) {
	params := logreg.Params{C: cfg.C, MaxIter: cfg.MaxIter, Seed: cfg.Seed, Classes: len(ds.ClassNames)}

	if err := o.recorder.LogParams(ctx, run, map[string]string{
		"model":     logreg.Kind,
		"C":         config.FormatFloat(cfg.C),
		"max_iter":  strconv.Itoa(cfg.MaxIter),
		"seed":      strconv.FormatInt(cfg.Seed, 10),
		"test_size": config.FormatFloat(cfg.TestSize),
	}); err != nil {
		return res, err
	}

	model, err := o.trainer(sp.TrainX, sp.TrainY, params)
	if err != nil {
		return res, fmt.Errorf("train: %w", err)
	}
	if lm, ok := model.(*logreg.Model); ok {
		if err := o.recorder.SetTags(ctx, run, map[string]string{
			TagConverged: strconv.FormatBool(lm.Info.Converged),
		}); err != nil {
			return res, err
		}
	}

	ev, err := eval.Evaluate(model, sp.TestX, sp.TestY, ds.ClassNames)
	if err != nil {
		return res, err
	}
	res.Metrics = ev.Metrics
	res.Accuracy = ev.Accuracy()
	log.Printf("[RUN] accuracy=%.4f precision_weighted=%.4f recall_weighted=%.4f\n%s",
		res.Accuracy, ev.Metrics[eval.MetricPrecisionWeighted], ev.Metrics[eval.MetricRecallWeighted],
		eval.FormatReport(ev.Report))

	if err := o.recorder.LogMetrics(ctx, run, ev.Metrics); err != nil {
		return res, err
	}

	if res.ArtifactPath, err = o.logPlot(ctx, run, cfg.OutputDir, sp.TestY, ev.Predictions, ds.ClassNames); err != nil {
		return res, err
	}

	example := sp.TrainX
	if len(example) > 2 {
		example = example[:2]
	}
	if res.ModelVersion, err = o.recorder.LogModel(ctx, run, model, example, cfg.RegisteredModelName); err != nil {
		return res, err
	}

	res.Decision = gate.NewGate(gate.GateConfig{MinAccuracy: cfg.MinAccuracy}).Evaluate(res.Accuracy)
	if err := o.recorder.SetTags(ctx, run, map[string]string{
		TagGateStatus:      res.Decision.Status(),
		TagGateMinAccuracy: config.FormatFloat(cfg.MinAccuracy),
	}); err != nil {
		return res, err
	}
	return res, res.Decision.Err()
}

// logPlot renders and uploads the confusion matrix. A rendering failure is
// logged and tagged but does not fail the run; an upload failure does.
func (o *Orchestrator) logPlot(ctx context.Context, run *tracking.Run, dir string,
	yTrue, yPred []int, classNames []string) (string, error) {
	local, err := o.renderer(dir, yTrue, yPred, classNames)
	if err != nil {
		log.Printf("[PLOT] warning: confusion matrix not rendered: %v", err)
		if err := o.recorder.SetTags(ctx, run, map[string]string{TagConfusionMatrix: "unavailable"}); err != nil {
			return "", err
		}
		return "", nil
	}
	return o.recorder.LogArtifact(ctx, run, local, PlotsFolder)
}

// markFailed finalizes run as FAILED. Errors are logged, not returned.
func (o *Orchestrator) markFailed(ctx context.Context, run *tracking.Run, cause error) {
	log.Printf("[RUN] run %s failed: %v", run.ID(), cause)
	if err := o.recorder.Finalize(ctx, run, tracking.StatusFailed); err != nil {
		log.Printf("[RUN] could not mark run %s failed: %v", run.ID(), err)
	}
}

// #endregion
