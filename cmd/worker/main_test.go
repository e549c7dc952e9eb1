package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/app"
	_ "github.com/odyssey-erp/stocksync/internal/testing/guard"
)

func TestMainReturnsInTestMode(t *testing.T) {
	require.True(t, app.RefreshTestMode())
	require.NotPanics(t, main)
}
