package flows

// Deps groups flow dependency sets. The root controller builds this once and
// delegates each operation to the matching flow.
type Deps struct {
	Hydrate    HydrateDeps
	SignIn     ExchangeDeps
	SignUp     ExchangeDeps
	Invalidate InvalidateDeps
}
