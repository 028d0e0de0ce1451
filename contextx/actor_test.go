package contextx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithActorRoundTrip(t *testing.T) {
	a := Actor{Subject: "user-1", Token: "tok"}

	got, ok := ActorFromContext(WithActor(t.Context(), a))
	require.True(t, ok, "expected actor in context")
	assert.Equal(t, a, got)
}

func TestActorFromContextMissing(t *testing.T) {
	_, ok := ActorFromContext(t.Context())
	assert.False(t, ok, "expected no actor in empty context")
}
