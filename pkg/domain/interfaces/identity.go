package interfaces

// Signer signs outbound messages with the node's private key
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// PeerCounter reports the number of currently connected peers
type PeerCounter interface {
	Count() int
}
