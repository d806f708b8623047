// Package p2p gossips signed wait certificates between PoET participants.
package p2p

// DefaultNetworkName is used when the configuration leaves it empty.
const DefaultNetworkName = "devnet0"

// CertificateTopic returns the gossipsub topic carrying certificate
// announcements for network.
func CertificateTopic(network string) string {
	if network == "" {
		network = DefaultNetworkName
	}
	return "/poet/" + network + "/certificate/ssz_snappy"
}
