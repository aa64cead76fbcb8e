// Package credentials loads trading account keys from a YAML file keyed by
// exchange name, then by account owner.
package credentials

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vtornik/listing-sniper/internal/domain"
)

// NonUniqueError reports key pairs shared between accounts, which is always
// an operator mistake.
type NonUniqueError struct {
	Count int
}

func (e *NonUniqueError) Error() string {
	return fmt.Sprintf("found %d non unique credentials, please check", e.Count)
}

type entry struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Enabled   bool   `yaml:"enabled"`
}

// Load reads the credentials file and returns the enabled credentials sorted
// by exchange name, then owner.
func Load(path string) ([]domain.Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) ([]domain.Credential, error) {
	var file map[string]map[string]entry
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}

	var creds []domain.Credential
	for exchange, accounts := range file {
		for owner, e := range accounts {
			if !e.Enabled {
				continue
			}
			creds = append(creds, domain.Credential{
				Exchange:  exchange,
				Owner:     owner,
				APIKey:    e.APIKey,
				SecretKey: e.SecretKey,
			})
		}
	}

	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Exchange != creds[j].Exchange {
			return creds[i].Exchange < creds[j].Exchange
		}
		return creds[i].Owner < creds[j].Owner
	})

	if err := checkUnique(creds); err != nil {
		return nil, err
	}

	return creds, nil
}

func checkUnique(creds []domain.Credential) error {
	unique := make(map[[3]string]struct{}, len(creds))
	for _, c := range creds {
		unique[[3]string{c.Exchange, c.APIKey, c.SecretKey}] = struct{}{}
	}

	if diff := len(creds) - len(unique); diff > 0 {
		return &NonUniqueError{Count: diff}
	}
	return nil
}
