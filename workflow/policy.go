/*
policy.go - Access policy for workflow transitions

PURPOSE:
  A single rule set mapping (actor role, actor branch, request branch,
  operation) to an allow/deny decision. Every transition consults this
  before acting, so role checks live here and nowhere else.

ROLES:
  STAFF           Branch-scoped. Creates, edits and cancels own requests
                  within its branch; read access within its branch.
  ADMIN_BRAND     Branch-scoped admin. Everything STAFF can do, plus
                  approve/reject/cancel and statistics - for its own branch
                  only.
  ADMIN_SYSTEM    Unrestricted across branches, and the only role that may
                  assign a request to logistics.
  LOGISTICS_STAFF Read-only: sees the request queue it will fulfil, triggers
                  no transitions.

IDENTITY RULES:
  Edit is restricted to the original requester regardless of role.
  Cancel is allowed to the original requester, or to any admin (subject to
  branch scope for ADMIN_BRAND).

SEE ALSO:
  - engine.go: Calls Authorize before every transition
*/
package workflow

// Operation names a workflow transition or read that the policy gates.
type Operation string

const (
	OpCreate     Operation = "CREATE"
	OpEdit       Operation = "EDIT"
	OpApprove    Operation = "APPROVE"
	OpReject     Operation = "REJECT"
	OpAssign     Operation = "ASSIGN"
	OpCancel     Operation = "CANCEL"
	OpView       Operation = "VIEW"
	OpStatistics Operation = "STATISTICS"
)

// Can is the pure policy function: may a role acting from actorBranch
// perform op on a request belonging to requestBranch?
//
// Identity rules (requester-only edit, requester-or-admin cancel) are
// layered on top by Authorize; Can only knows roles and branches.
func Can(role Role, actorBranch, requestBranch string, op Operation) bool {
	switch role {
	case RoleAdminSystem:
		return true

	case RoleAdminBrand:
		switch op {
		case OpCreate, OpEdit, OpApprove, OpReject, OpCancel, OpView, OpStatistics:
			return actorBranch != "" && actorBranch == requestBranch
		}
		return false

	case RoleStaff:
		switch op {
		case OpCreate, OpEdit, OpCancel, OpView:
			return actorBranch != "" && actorBranch == requestBranch
		}
		return false

	case RoleLogistics:
		// Logistics staff consume the queue they fulfil; they are not
		// branch-bound and trigger no transitions.
		return op == OpView
	}

	return false
}

// Authorize applies Can plus the identity rules against a concrete request.
// A denial surfaces as PermissionError so callers map it to 403, distinct
// from wrong-state (400) and unresolvable-id (404) failures.
func Authorize(actor Actor, op Operation, req *StockRequest) error {
	switch op {
	case OpEdit:
		if actor.ID != req.RequestedByID {
			return NewPermissionError("only the original requester may edit a request")
		}
	case OpCancel:
		if actor.ID != req.RequestedByID && !actor.Role.Admin() {
			return NewPermissionError("only the requester or an admin may cancel a request")
		}
	}

	if !Can(actor.Role, actor.BranchID, req.BranchID, op) {
		return NewPermissionError("role %s may not %s requests for branch %s", actor.Role, op, req.BranchID)
	}
	return nil
}

// AuthorizeCreate checks creation against a target branch before any request
// exists. Branch-scoped roles may only target their own branch.
func AuthorizeCreate(actor Actor, targetBranch string) error {
	if !Can(actor.Role, actor.BranchID, targetBranch, OpCreate) {
		return NewPermissionError("role %s may not create requests for branch %s", actor.Role, targetBranch)
	}
	return nil
}
