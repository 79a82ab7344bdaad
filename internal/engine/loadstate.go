package engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/davidmreed/amaxa-sub000/internal/sfid"
)

// Stage is the phase a load is in.
type Stage int

const (
	// StageInserts inserts records with deferred lookups blanked.
	StageInserts Stage = iota + 1
	// StageDependents patches deferred lookups with updates.
	StageDependents
)

func (s Stage) String() string {
	switch s {
	case StageInserts:
		return "inserts"
	case StageDependents:
		return "dependents"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ParseStage parses the String form of a stage.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "inserts":
		return StageInserts, nil
	case "dependents":
		return StageDependents, nil
	default:
		return 0, fmt.Errorf("unknown load stage %q", s)
	}
}

// LoadState is everything a load needs to resume: the stage reached and the
// old-to-new id map.
type LoadState struct {
	Stage Stage
	IDMap map[sfid.ID]sfid.ID
}

// NewLoadState returns the state of a load that has not started.
func NewLoadState() LoadState {
	return LoadState{Stage: StageInserts, IDMap: make(map[sfid.ID]sfid.ID)}
}

// Clone returns an independent copy.
func (s LoadState) Clone() LoadState {
	c := LoadState{Stage: s.Stage, IDMap: make(map[sfid.ID]sfid.ID, len(s.IDMap))}
	maps.Copy(c.IDMap, s.IDMap)
	return c
}

// Journal persists load progress as it happens so that an interrupted run
// can be resumed even if no snapshot was written.
type Journal interface {
	RecordMapping(ctx context.Context, sobject string, oldID, newID sfid.ID) error
	RecordStage(ctx context.Context, stage Stage) error
}
