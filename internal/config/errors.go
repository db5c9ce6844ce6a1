package config

import "errors"

var ErrConfigIsNil = errors.New("config is nil")
var ErrParse = errors.New("malformed config")
var ErrMissingListen = errors.New("missing listen address")
var ErrMissingDataDir = errors.New("missing data dir")
var ErrInvalidShards = errors.New("shards must be at least 1")
var ErrInvalidCheckpoint = errors.New("checkpoint_every must be at least 1")
var ErrInvalidQueueSize = errors.New("queue_size must be at least 1")
var ErrUnknownLevel = errors.New("unknown log level")
var ErrUnknownFormat = errors.New("unknown log format")
