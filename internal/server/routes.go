package server

import (
	"net/http"

	"github.com/ternarybob/maestro/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (push stream for task/job/artifact events)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Planner
	mux.HandleFunc("/api/plan", s.app.PlanHandler.PlanHandler) // POST - prompt to workflow, ?execute=true to run

	// API routes - Jobs
	mux.HandleFunc("/api/jobs", s.handleJobsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)

	// API routes - Tasks
	mux.HandleFunc("/api/tasks/", s.handleTaskRoutes)

	// API routes - Workflow templates
	mux.HandleFunc("/api/workflows", s.handleWorkflowsRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/workflows/", s.handleWorkflowRoutes)

	// API routes - Artifacts
	mux.HandleFunc("/api/artifacts/", s.handleArtifactRoutes)

	// API routes - Dead letter queue
	mux.HandleFunc("/api/dlq", s.app.DLQHandler.ListDLQHandler)
	mux.HandleFunc("/api/dlq/", s.handleDLQRoutes)

	// API routes - Organization membership
	mux.HandleFunc("/api/org/members", s.handleOrgMembersRoute)
	mux.HandleFunc("/api/org/members/", s.handleOrgMemberRoutes)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/agents", s.app.APIHandler.AgentsHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobsRoute routes /api/jobs requests (list and create)
func (s *Server) handleJobsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.JobHandler.ListJobsHandler(w, r)
	case "POST":
		s.app.JobHandler.CreateJobHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobRoutes routes /api/jobs/{id} and subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/jobs/")

	switch len(parts) {
	case 1:
		// GET /api/jobs/{id}
		s.app.JobHandler.GetJobHandler(w, r, parts[0])
		return
	case 2:
		jobID := parts[0]
		switch parts[1] {
		case "tasks":
			s.app.JobHandler.GetJobTasksHandler(w, r, jobID)
		case "logs":
			s.app.JobHandler.GetJobLogsHandler(w, r, jobID)
		case "artifacts":
			s.app.JobHandler.GetJobArtifactsHandler(w, r, jobID)
		case "cancel":
			s.app.JobHandler.CancelJobHandler(w, r, jobID)
		case "pause":
			s.app.JobHandler.PauseJobHandler(w, r, jobID)
		case "resume":
			s.app.JobHandler.ResumeJobHandler(w, r, jobID)
		case "schedule":
			switch r.Method {
			case "POST":
				s.app.JobHandler.ScheduleJobHandler(w, r, jobID)
			case "GET":
				s.app.JobHandler.GetScheduleHandler(w, r, jobID)
			case "DELETE":
				s.app.JobHandler.DeleteScheduleHandler(w, r, jobID)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleTaskRoutes routes /api/tasks/{id} and subpaths
func (s *Server) handleTaskRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/tasks/")

	switch len(parts) {
	case 1:
		// GET /api/tasks/{id}
		s.app.TaskHandler.GetTaskHandler(w, r, parts[0])
		return
	case 2:
		taskID := parts[0]
		switch parts[1] {
		case "outputs":
			s.app.TaskHandler.GetTaskOutputsHandler(w, r, taskID)
		case "logs":
			s.app.TaskHandler.GetTaskLogsHandler(w, r, taskID)
		case "retry":
			s.app.TaskHandler.RetryTaskHandler(w, r, taskID)
		case "skip":
			s.app.TaskHandler.SkipTaskHandler(w, r, taskID)
		case "fail":
			s.app.TaskHandler.FailTaskHandler(w, r, taskID)
		case "review":
			s.app.TaskHandler.ReviewTaskHandler(w, r, taskID)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleWorkflowsRoute routes /api/workflows requests (list and create)
func (s *Server) handleWorkflowsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.WorkflowHandler.ListWorkflowsHandler(w, r)
	case "POST":
		s.app.WorkflowHandler.CreateWorkflowHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWorkflowRoutes routes /api/workflows/{id} and subpaths
func (s *Server) handleWorkflowRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/workflows/")

	switch len(parts) {
	case 1:
		// GET /api/workflows/{id}
		s.app.WorkflowHandler.GetWorkflowHandler(w, r, parts[0])
		return
	case 2:
		templateID := parts[0]
		switch parts[1] {
		case "versions":
			switch r.Method {
			case "GET":
				s.app.WorkflowHandler.ListVersionsHandler(w, r, templateID)
			case "POST":
				s.app.WorkflowHandler.AddVersionHandler(w, r, templateID)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		case "run":
			s.app.WorkflowHandler.RunWorkflowHandler(w, r, templateID)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleArtifactRoutes routes /api/artifacts/{id} subpaths plus the version
// chain listing at /api/artifacts/versions/{jobId}/{type}[/{role}]
func (s *Server) handleArtifactRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/artifacts/")

	if len(parts) >= 3 && parts[0] == "versions" {
		role := ""
		if len(parts) == 4 {
			role = parts[3]
		}
		if len(parts) <= 4 {
			s.app.ArtifactHandler.ListVersionsHandler(w, r, parts[1], parts[2], role)
			return
		}
	}

	switch len(parts) {
	case 1:
		// GET /api/artifacts/{id}
		s.app.ArtifactHandler.GetArtifactHandler(w, r, parts[0])
		return
	case 2:
		artifactID := parts[0]
		switch parts[1] {
		case "promote":
			s.app.ArtifactHandler.PromoteArtifactHandler(w, r, artifactID)
		case "diff":
			s.app.ArtifactHandler.DiffArtifactHandler(w, r, artifactID)
		case "audit":
			s.app.ArtifactHandler.GetAuditHandler(w, r, artifactID)
		default:
			s.app.APIHandler.NotFoundHandler(w, r)
		}
		return
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleDLQRoutes routes /api/dlq/{id} requests
func (s *Server) handleDLQRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/dlq/")

	switch len(parts) {
	case 1:
		// DELETE /api/dlq/{id}
		s.app.DLQHandler.DeleteDLQHandler(w, r, parts[0])
		return
	case 2:
		if parts[1] == "replay" {
			s.app.DLQHandler.ReplayDLQHandler(w, r, parts[0])
			return
		}
	}

	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleOrgMembersRoute routes /api/org/members requests (list and add)
func (s *Server) handleOrgMembersRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		s.app.OrgHandler.ListMembersHandler(w, r)
	case "POST":
		s.app.OrgHandler.AddMemberHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOrgMemberRoutes routes /api/org/members/{userId} requests
func (s *Server) handleOrgMemberRoutes(w http.ResponseWriter, r *http.Request) {
	parts := handlers.PathParts(r.URL.Path, "/api/org/members/")
	if len(parts) == 1 {
		s.app.OrgHandler.RemoveMemberHandler(w, r, parts[0])
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}
