package iats

import "errors"

// ErrComponentDown marks operations against a component whose daemon is
// not running, usually because its binary is missing.
var ErrComponentDown = errors.New("component not running")
