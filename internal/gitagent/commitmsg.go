package gitagent

import (
	"fmt"
	"path"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/draftline-systems/draftline/internal/models"
)

// CommitMessage generates the semantic commit message for an applied
// proposal: a type(scope) subject derived from the aggregate change set,
// one line per file with its action, aggregate added/removed line counts,
// and the proposal ID for traceability.
func CommitMessage(proposalID, title string, changes []models.ProposedChange) string {
	subject := title
	if subject == "" {
		subject = "apply proposal " + proposalID
	}

	var b strings.Builder
	if scope := commonScope(changes); scope != "" {
		fmt.Fprintf(&b, "%s(%s): %s\n\n", commitType(changes), scope, subject)
	} else {
		fmt.Fprintf(&b, "%s: %s\n\n", commitType(changes), subject)
	}

	for _, c := range changes {
		fmt.Fprintf(&b, "- %s %s\n", c.ChangeType, c.FilePath)
	}

	added, removed := diffStats(changes)
	fmt.Fprintf(&b, "\n+%d -%d\nProposal: %s\n", added, removed, proposalID)
	return b.String()
}

// commitType derives the conventional-commit type from the change set.
// Documentation-only change sets get "docs".
func commitType(changes []models.ProposedChange) string {
	docsOnly := len(changes) > 0
	creates, deletes := 0, 0
	for _, c := range changes {
		if !isDocPath(c.FilePath) {
			docsOnly = false
		}
		switch c.ChangeType {
		case models.ChangeCreate:
			creates++
		case models.ChangeDelete:
			deletes++
		}
	}

	switch {
	case docsOnly:
		return "docs"
	case creates > 0:
		return "feat"
	case deletes == len(changes) && len(changes) > 0:
		return "chore"
	default:
		return "refactor"
	}
}

func isDocPath(p string) bool {
	if strings.HasPrefix(p, "docs/") {
		return true
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".md", ".rst", ".txt":
		return true
	}
	return false
}

// commonScope returns the top-level directory shared by every changed file,
// or "" when files live at the root or in different directories.
func commonScope(changes []models.ProposedChange) string {
	scope := ""
	for _, c := range changes {
		top, _, found := strings.Cut(c.FilePath, "/")
		if !found {
			return ""
		}
		if scope == "" {
			scope = top
		} else if scope != top {
			return ""
		}
	}
	return scope
}

// diffStats computes aggregate added and removed line counts across the
// change set with a line-granular diff of each file's before/after contents.
func diffStats(changes []models.ProposedChange) (added, removed int) {
	dmp := diffmatchpatch.New()
	for _, c := range changes {
		before, after := c.Before, c.After
		if c.ChangeType == models.ChangeDelete {
			after = ""
		}
		if before == after {
			continue
		}

		a, b, lines := dmp.DiffLinesToChars(before, after)
		diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
		for _, d := range diffs {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				added += lineCount(d.Text)
			case diffmatchpatch.DiffDelete:
				removed += lineCount(d.Text)
			}
		}
	}
	return added, removed
}

func lineCount(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
