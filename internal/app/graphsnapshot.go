package app

import (
	"fmt"
	"strings"

	"github.com/lyra-research/lyra/internal/store"
)

// buildGraphSnapshotMarkdown renders a read-only audit summary of a task's
// claims and their current confidence, for writeSimplePDF. This is the
// "graph PDF snapshot" supplement: report synthesis proper stays out of
// scope, but a plain accounting of what the graph currently holds for a
// task is not a report and is useful for audit.
func buildGraphSnapshotMarkdown(db *store.DB, taskID string) (string, error) {
	claims, err := db.ListClaimsByTask(taskID)
	if err != nil {
		return "", fmt.Errorf("graph snapshot: list claims: %w", err)
	}

	var b strings.Builder
	b.WriteString("# Evidence graph snapshot\n\n")
	fmt.Fprintf(&b, "Task: %s\n\n", taskID)

	for _, c := range claims {
		conf, err := db.GetClaimConfidence(c.ID)
		if err != nil {
			return "", fmt.Errorf("graph snapshot: claim confidence %s: %w", c.ID, err)
		}
		b.WriteString("## ")
		b.WriteString(strings.TrimSpace(c.ClaimText))
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "status: %s; confidence: %.3f; uncertainty: %.3f; controversy: %.3f; evidence: %d\n\n",
			c.AdoptionStatus, conf.Confidence, conf.Uncertainty, conf.Controversy, conf.EvidenceCount)
		for _, e := range conf.PerEvidence {
			fmt.Fprintf(&b, "- [%s] fragment %s, nli_confidence=%.2f, domain_category=%s\n",
				e.Relation, e.FragmentID, e.NLIConfidence, e.SourceDomainCategory)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
