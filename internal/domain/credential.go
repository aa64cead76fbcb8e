package domain

// Credential is one trading account key pair for a venue. Only enabled
// credentials make it out of the loader, so there is no enabled flag here.
type Credential struct {
	Exchange  string
	Owner     string
	APIKey    string
	SecretKey string
}
