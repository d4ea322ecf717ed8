package resputil

type ErrorCode int

const (
	OK ErrorCode = 0

	// General
	InvalidRequest ErrorCode = 40001

	// Job not found for this tenant/project
	JobNotFound ErrorCode = 40401

	// Tenant over its queue-depth cap
	QueueLimitExceeded ErrorCode = 42901

	// Frontend will directly print the message without any translation
	NotSpecified ErrorCode = 99999
)
