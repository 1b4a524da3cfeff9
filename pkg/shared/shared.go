package shared

// Identity holds the validated identity a client connects with. The sync core
// never inspects the token beyond passing it to the transport handshake.
type Identity struct {
	Token   string
	UserID  string
	TeamIDs []string
}
