/*
stats.go - Statistics aggregation over the request store

PURPOSE:
  Per-status request counts, optionally scoped to one branch. Read-only,
  no side effects. The store computes the counts in a single query so the
  breakdown is one consistent snapshot: total always equals the sum of the
  five per-status counts.
*/
package workflow

import "context"

// Sum re-derives the total from the per-status counts.
func (c StatusCounts) Sum() int {
	return c.Pending + c.Approved + c.Completed + c.Rejected + c.Cancelled
}

// Statistics returns the status breakdown. Admin-only: branch admins are
// implicitly scoped to their own branch, system admins may pass any branch
// ("" for all branches).
func (e *Engine) Statistics(ctx context.Context, actor Actor, branchID string) (StatusCounts, error) {
	if !actor.Role.Admin() {
		return StatusCounts{}, NewPermissionError("role %s may not read request statistics", actor.Role)
	}
	if actor.Role == RoleAdminBrand {
		if actor.BranchID == "" {
			return StatusCounts{}, NewPermissionError("branch admin without a branch may not read statistics")
		}
		branchID = actor.BranchID
	}
	if branchID != "" && !Can(actor.Role, actor.BranchID, branchID, OpStatistics) {
		return StatusCounts{}, NewPermissionError("role %s may not read statistics for branch %s", actor.Role, branchID)
	}

	return e.store.CountByStatus(ctx, branchID)
}
