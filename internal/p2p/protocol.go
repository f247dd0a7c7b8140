package p2p

import "errors"

// GossipSub topic names.
const (
	TopicTransactions = "/klingnet-ledger/tx/1.0.0"
	TopicBlocks       = "/klingnet-ledger/block/1.0.0"
)

// maxMessageSize bounds a single gossip message. Blocks are the largest
// payload the node relays.
const maxMessageSize = 4 << 20

// ErrInvalidMessage is wrapped by message handlers to report a payload that
// could not be decoded or failed validation. The sending peer is penalized.
var ErrInvalidMessage = errors.New("invalid p2p message")

// ErrNotStarted is returned by operations that need a running host.
var ErrNotStarted = errors.New("p2p node not started")
