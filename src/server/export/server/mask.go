package server

import (
	"github.com/izio7/tensorboard/src/export"
)

// projectExperiment returns a copy of e with the identifier and every
// masked-true field populated.  The mask is a lower bound, not an exact
// contract: the projector is monotone and keeps cheap already-materialized
// fields (the creation time) even when unmasked, rather than filtering them
// out.  A nil mask selects no optional fields.
func projectExperiment(e *export.Experiment, mask *export.ExperimentMask) *export.Experiment {
	out := &export.Experiment{
		ID: e.ID,
		// Opportunistic: the record is already loaded, so the creation time
		// costs nothing to include.
		CreateTime: e.CreateTime,
	}
	if mask == nil {
		return out
	}
	if mask.Name {
		out.Name = e.Name
	}
	if mask.Description {
		out.Description = e.Description
	}
	if mask.CreateTime {
		out.CreateTime = e.CreateTime
	}
	if mask.NumRuns {
		out.NumRuns = e.NumRuns
	}
	if mask.NumTags {
		out.NumTags = e.NumTags
	}
	if mask.NumScalars {
		out.NumScalars = e.NumScalars
	}
	if mask.NumTensors {
		out.NumTensors = e.NumTensors
	}
	if mask.NumBlobSequences {
		out.NumBlobSequences = e.NumBlobSequences
	}
	return out
}
