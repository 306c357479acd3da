package base

import "errors"

var ErrInvalidKeyLength = errors.New("invalid key length")
var ErrKeyNotLoaded = errors.New("key not loaded")
var ErrAuthenticationFailed = errors.New("authentication failed")
var ErrProtocolViolation = errors.New("protocol violation")
