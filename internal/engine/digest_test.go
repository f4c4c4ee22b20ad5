package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestIsStable(t *testing.T) {
	a := DigestRequest("POST", "/login", `{"user":"admin"}`)
	b := DigestRequest("POST", "/login", `{"user":"admin"}`)
	assert.Equal(t, a, b)
	assert.Len(t, a.Hex(), 32)
}

func TestDigestDiscriminates(t *testing.T) {
	base := DigestRequest("POST", "/login", `{"user":"admin"}`)
	assert.NotEqual(t, base, DigestRequest("GET", "/login", `{"user":"admin"}`))
	assert.NotEqual(t, base, DigestRequest("POST", "/logout", `{"user":"admin"}`))
	assert.NotEqual(t, base, DigestRequest("POST", "/login", `{"user":"root"}`))
}

func BenchmarkDigestRequest(b *testing.B) {
	body := `{"user":"admin","password":"hunter2","remember":true}`
	for i := 0; i < b.N; i++ {
		DigestRequest("POST", "/api/login", body)
	}
}
