package worktree

import (
	"context"
	"regexp"
	"strconv"
	"time"
)

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?`)
)

// iso date as emitted by git log --date=iso.
const gitISOLayout = "2006-01-02 15:04:05 -0700"

// collectStats fills divergence stats on info. Collection is best effort:
// a failing query leaves its fields at zero rather than failing the caller.
func (m *DefaultManager) collectStats(ctx context.Context, info *Info) {
	if res, err := m.run(ctx, info.Path, queryTimeout, "rev-list", "--count", info.BaseBranch+"..HEAD"); err == nil && res.Ok() {
		if n, err := strconv.Atoi(res.Output()); err == nil {
			info.CommitCount = n
		}
	}

	if res, err := m.run(ctx, info.Path, queryTimeout, "diff", "--shortstat", info.BaseBranch+"...HEAD"); err == nil && res.Ok() {
		parseShortstat(res.Output(), info)
	}

	if res, err := m.run(ctx, info.Path, queryTimeout, "log", "-1", "--format=%cd", "--date=iso"); err == nil && res.Ok() {
		if ts, err := time.Parse(gitISOLayout, res.Output()); err == nil {
			info.LastCommitAt = &ts
			if idle := m.now().Sub(ts); idle > 0 {
				info.DaysIdle = int(idle.Hours() / 24)
			}
		}
	}
}

// parseShortstat extracts counts from git diff --shortstat output, e.g.
// "3 files changed, 42 insertions(+), 7 deletions(-)". Sections absent from
// the output stay zero.
func parseShortstat(out string, info *Info) {
	if match := filesChangedRe.FindStringSubmatch(out); match != nil {
		info.FilesChanged, _ = strconv.Atoi(match[1])
	}
	if match := insertionsRe.FindStringSubmatch(out); match != nil {
		info.Additions, _ = strconv.Atoi(match[1])
	}
	if match := deletionsRe.FindStringSubmatch(out); match != nil {
		info.Deletions, _ = strconv.Atoi(match[1])
	}
}
