package trainer

import (
	"fmt"
	"path/filepath"

	"github.com/born-ml/trainer/internal/checkpoint"
)

// saveCheckpoint writes model_best when best is set, and the periodic
// checkpoint for epoch when periodic checkpoints are kept.
func (t *Trainer) saveCheckpoint(epoch int, best bool) error {
	if !best && !t.cfg.Trainer.KeepPeriodic {
		return nil
	}

	state := &checkpoint.State{
		Arch:        archName(t.c.Model),
		Epoch:       epoch,
		StateDict:   t.c.Model.StateDict(),
		Optimizer:   t.c.Optimizer.StateDict(),
		MonitorBest: t.monitor.Best,
	}
	if holder, ok := t.c.TrainCriterion.(MasterVectorHolder); ok {
		state.MasterVector = holder.MasterVector()
	}

	if t.cfg.Trainer.KeepPeriodic {
		path := filepath.Join(t.checkpointDir, checkpoint.PeriodicFileName(epoch))
		if err := checkpoint.Save(path, state); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		t.logger.Infof("Saving checkpoint: %s ...", path)
	}
	if best {
		path := filepath.Join(t.checkpointDir, checkpoint.BestFileName)
		if err := checkpoint.Save(path, state); err != nil {
			return fmt.Errorf("failed to save best model: %w", err)
		}
		t.logger.Infof("Saving current best: %s at: %s ...", checkpoint.BestFileName, path)
	}
	return nil
}

// resumeCheckpoint restores the epoch counter, monitor best, criterion state,
// model and optimizer from a checkpoint.
func (t *Trainer) resumeCheckpoint(path string) error {
	t.logger.Infof("Loading checkpoint: %s ...", path)
	state, err := checkpoint.Load(path)
	if err != nil {
		return err
	}

	t.startEpoch = state.Epoch + 1
	t.monitor.Best = state.MonitorBest

	if holder, ok := t.c.TrainCriterion.(MasterVectorHolder); ok {
		if err := holder.RestoreMasterVector(state.MasterVector); err != nil {
			return fmt.Errorf("failed to restore master vector: %w", err)
		}
	}

	if state.Arch != t.cfg.Arch.Type {
		t.logger.Warningf("Warning: Architecture configuration given in config file is different from that of " +
			"checkpoint. This may yield an exception while state_dict is being loaded.")
	}
	if err := t.c.Model.LoadStateDict(state.StateDict); err != nil {
		return fmt.Errorf("failed to load model state: %w", err)
	}
	if err := t.c.Optimizer.LoadStateDict(state.Optimizer); err != nil {
		return fmt.Errorf("failed to load optimizer state: %w", err)
	}

	t.logger.Infof("Checkpoint loaded. Resume training from epoch %d", t.startEpoch)
	return nil
}
