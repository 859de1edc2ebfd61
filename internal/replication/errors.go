package replication

import "errors"

// ErrResyncFailed indicates a Follower could not obtain a data subscription
// for the leader session id it just adopted.
var ErrResyncFailed = errors.New("replication: resync failed")
