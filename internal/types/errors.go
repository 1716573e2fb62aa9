package types

import "errors"

// Coordination error kinds. All are local, recoverable errors returned to
// the caller; none are fatal to the coordinator process. Match with
// errors.Is after unwrapping.
var (
	// ErrNoApplicableRoles: role selection produced an empty set for the
	// decision context.
	ErrNoApplicableRoles = errors.New("no applicable roles for decision context")

	// ErrNoAnalysisAvailable: every queried agent failed or timed out.
	ErrNoAnalysisAvailable = errors.New("no analysis available from any agent")

	// ErrNoExecutivesAvailable: none of a session's required roles has an
	// available agent.
	ErrNoExecutivesAvailable = errors.New("no executives available for session")

	// ErrSessionNotFound: the session id does not name an active session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRoleNotParticipant: the role is not in the session's participant set.
	ErrRoleNotParticipant = errors.New("role is not a session participant")

	// ErrUnsupportedRole: an unregistered role was used in configuration.
	ErrUnsupportedRole = errors.New("unsupported role")
)
