package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidMailboxSize     = errors.New("invalid mailbox size")
	ErrInvalidTimeout         = errors.New("invalid timeout")
	ErrInvalidMaxPending      = errors.New("invalid max pending requests")
	ErrInvalidJournalCapacity = errors.New("invalid journal capacity")
	ErrInvalidJournalFormat   = errors.New("invalid journal format")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.New("configuration file not found")
)
