package handlers

import (
	"context"
	"net/http"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/models"
)

// requireIdentity fetches the caller identity placed by the auth middleware,
// writing a 401 when absent.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return id, true
}

// writeAccessErr renders access failures. Authenticated callers denied a
// resource get 403; other errors keep their kind mapping.
func writeAccessErr(w http.ResponseWriter, err error) {
	if common.KindOf(err) == common.KindAuth {
		WriteError(w, http.StatusForbidden, err.Error())
		return
	}
	WriteErr(w, err)
}

// canAccessJob reports whether the caller owns the job or shares its org.
func canAccessJob(id *Identity, job *models.Job) bool {
	if job.OwnerID == id.UserID {
		return true
	}
	return job.OrgID != "" && job.OrgID == id.OrgID
}

// requireJobAccess loads the job and enforces owner-or-same-org visibility.
func requireJobAccess(ctx context.Context, jobs interfaces.JobStorage, id *Identity, jobID string) (*models.Job, error) {
	job, err := jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !canAccessJob(id, job) {
		return nil, common.NewError(common.KindAuth, "job %s is not visible to this caller", jobID)
	}
	return job, nil
}

// requireOrgRole checks the caller's membership row for the org. Job owners
// pass implicitly for their own personal jobs (empty orgID).
func requireOrgRole(ctx context.Context, orgs interfaces.OrgStorage, id *Identity, orgID string, required models.OrgRole) error {
	if orgID == "" {
		return nil
	}
	member, err := orgs.GetMember(ctx, orgID, id.UserID)
	if err != nil {
		if common.KindOf(err) == common.KindNotFound {
			return common.NewError(common.KindAuth, "caller is not a member of org %s", orgID)
		}
		return err
	}
	if !member.Role.AtLeast(required) {
		return common.NewError(common.KindAuth, "org role %s required", required)
	}
	return nil
}
