package report

import (
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/pipeline"
)

// ArtifactEntry is one generated target expression as written to disk.
type ArtifactEntry struct {
	ID               string       `json:"id"`
	Caption          string       `json:"caption"`
	TargetName       string       `json:"targetName,omitempty"`
	Role             graph.Role   `json:"role,omitempty"`
	Status           graph.Status `json:"status"`
	TargetExpression string       `json:"targetExpression"`
	TemplateUsed     string       `json:"templateUsed,omitempty"`
	Confidence       float64      `json:"confidence"`
	Compliant        bool         `json:"compliant"`
}

// Artifacts lists every calculation that produced an expression. Pending
// calculations are omitted.
func Artifacts(run *pipeline.RunResult) []ArtifactEntry {
	var out []ArtifactEntry
	for _, res := range run.Results {
		if res.Artifact == nil {
			continue
		}
		out = append(out, ArtifactEntry{
			ID:               res.ID,
			Caption:          res.Caption,
			TargetName:       res.TargetName,
			Role:             res.Role,
			Status:           res.Status,
			TargetExpression: res.Artifact.TargetExpression,
			TemplateUsed:     res.Artifact.TemplateUsed,
			Confidence:       res.Artifact.Confidence,
			Compliant:        res.Artifact.Validation.IsCompliant,
		})
	}
	return out
}

func SaveArtifacts(path string, run *pipeline.RunResult) error {
	entries := Artifacts(run)
	if entries == nil {
		entries = []ArtifactEntry{}
	}
	return writeJSON(path, entries)
}
