package domain

import "errors"

var (
	// ErrSignatureInvalid indicates a missing, malformed or mismatched signature.
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrMalformedPayload indicates the webhook body is not valid JSON.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrBranchIgnored indicates a valid event for a branch outside the allow-list.
	ErrBranchIgnored = errors.New("branch ignored")
	// ErrNoComponentsAffected indicates a valid event that resolves to an empty plan.
	ErrNoComponentsAffected = errors.New("no components affected")
	// ErrDeployTimeout indicates a component deploy exceeded its time limit.
	ErrDeployTimeout = errors.New("deployment timed out")
	// ErrDeployFailure indicates a component deploy exited unsuccessfully.
	ErrDeployFailure = errors.New("deployment failed")
	// ErrHaltingFailure indicates a halting-tier component failed and the run stopped.
	ErrHaltingFailure = errors.New("halting component failed")
	// ErrLockContention indicates another dispatcher instance owns the run lock.
	ErrLockContention = errors.New("another instance is running")
	// ErrRunInProgress indicates a deployment run is already executing in this process.
	ErrRunInProgress = errors.New("deployment already in progress")
	// ErrShuttingDown indicates the dispatcher is stopping and accepts no new runs.
	ErrShuttingDown = errors.New("dispatcher shutting down")
)
