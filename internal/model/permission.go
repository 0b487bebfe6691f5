package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionExamsMonitor allows attaching to the live proctoring monitor.
	PermissionExamsMonitor Permission = "exams:monitor"

	// PermissionViolationsRead allows reading the proctoring audit log.
	PermissionViolationsRead Permission = "violations:read"
)
