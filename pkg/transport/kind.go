package transport

// Kind tags a transport instance's connection role. It is mutable only
// through the SwapKind action.
type Kind int

const (
	Client Kind = iota
	Server
)

func (k Kind) String() string {
	if k == Server {
		return "server"
	}
	return "client"
}

// Other returns the opposite kind.
func (k Kind) Other() Kind {
	if k == Server {
		return Client
	}
	return Server
}
