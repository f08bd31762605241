package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentDisposition(t *testing.T) {
	assert.Equal(t,
		"attachment; filename*=UTF-8''6f1c1d2e-8e9b-4c4b-9e55-2b7a1f3c9d10",
		contentDisposition("6f1c1d2e-8e9b-4c4b-9e55-2b7a1f3c9d10"))
	assert.Equal(t,
		"attachment; filename*=UTF-8''%C3%A9t%C3%A9%20photo",
		contentDisposition("été photo"))
	assert.Equal(t,
		"attachment; filename*=UTF-8''a%27b%28c%29%2A%3B%3D%2Fd!#$&+-.^_`|~",
		contentDisposition("a'b(c)*;=/d!#$&+-.^_`|~"))
}
