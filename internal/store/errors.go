package store

import "errors"

// Sentinel errors returned by repository methods to signal well-known failure
// conditions. Callers should use [errors.Is] to match against these values.
var (
	// ErrStateGone is returned when no state is stored for the requested sync
	// key. The device has to start over with a full resync.
	ErrStateGone = errors.New("sync state not found")

	// ErrDeviceNotFound is returned when a device record does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNotImplemented is returned by backends lacking a capability.
	ErrNotImplemented = errors.New("not implemented by this state backend")

	// ErrUnknownDriver is returned by the factory for an unsupported storage driver.
	ErrUnknownDriver = errors.New("unknown storage driver")

	// ErrInvalidRemoveOptions is returned when RemoveState gets no selector at all.
	ErrInvalidRemoveOptions = errors.New("remove state needs a sync key, device id or user")
)

// Low-level database operation errors. These are returned (or wrapped) by
// repository methods when a storage operation fails before any domain logic
// can be applied.
var (
	// ErrBuildingSQLQuery is returned when constructing a parameterised SQL
	// query fails (e.g. invalid argument count or unsupported type).
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a SELECT or similar
	// read-only query against the database fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrBeginningTransaction is returned when the database driver cannot
	// start a new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommitingTransaction is returned when committing an open transaction
	// fails. The transaction is considered rolled back at this point.
	ErrCommitingTransaction = errors.New("failed to commit transaction")

	// ErrExecutingStatement is returned when executing a DML statement
	// (INSERT, UPDATE, DELETE) fails.
	ErrExecutingStatement = errors.New("failed to executing statement")

	// ErrScanningRow is returned when scanning column values from a single
	// result row fails.
	ErrScanningRow = errors.New("failed to scan row")

	// ErrScanningRows is returned when scanning column values during
	// multi-row iteration fails, typically mid-result-set.
	ErrScanningRows = errors.New("failed to scan rows")

	// ErrEncodingBlob and ErrDecodingBlob wrap codec failures on stored blobs.
	ErrEncodingBlob = errors.New("failed to encode state blob")
	ErrDecodingBlob = errors.New("failed to decode state blob")

	// ErrFileStorage wraps I/O failures of the file backend.
	ErrFileStorage = errors.New("file storage error")

	// ErrBoltStorage wraps failures of the bolt backend.
	ErrBoltStorage = errors.New("bolt storage error")
)
