package replica

import "github.com/epax-io/epax/internal/message"

// Transport is the consumed send-side interface, specialised to the two
// destination shapes the core ever addresses: a peer replica by its
// index in Config.Peers, or a client by the address string it gave in
// its request. Receiving is the mirror image: a host decodes inbound
// bytes into a message.Message and calls the matching Replica.HandleXxx
// method directly, serially.
type Transport interface {
	SendToReplica(dst int32, msg message.Message)
	SendToClient(addr string, msg message.Message)
}
