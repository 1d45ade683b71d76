package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	u "certforge/internal/utils"
)

func TestOpenRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  u.PostgresConfig
	}{
		{name: "empty host", cfg: u.PostgresConfig{Database: "certs", User: "app"}},
		{name: "empty database", cfg: u.PostgresConfig{Host: "localhost", User: "app"}},
		{name: "empty user", cfg: u.PostgresConfig{Host: "localhost", Database: "certs"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Open(tc.cfg)
			assert.Error(t, err)
			assert.Nil(t, l)
		})
	}
}
