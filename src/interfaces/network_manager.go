package interfaces

// INetworkManager performs outbound HTTP calls with retry handling.
type INetworkManager interface {
	Get(url string, params map[string]string) ([]byte, error)
}
