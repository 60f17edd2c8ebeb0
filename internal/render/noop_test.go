package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoopAlwaysErrors(t *testing.T) {
	var r Renderer = NewNoop()
	_, err := r.Render(context.Background(), "https://example.com")
	require.Error(t, err)
}
