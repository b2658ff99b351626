package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("should create a usable logger", func(t *testing.T) {
		// Act
		logger := NewLogger()

		// Assert
		require.NotNil(t, logger)
		assert.NotPanics(t, func() {
			logger.Info("test message")
		})
	})
}

func TestNewProductionLogger(t *testing.T) {
	t.Run("should create a production logger without error", func(t *testing.T) {
		// Act
		logger, err := NewProductionLogger()

		// Assert
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}

func TestNewDevelopmentLogger(t *testing.T) {
	t.Run("should create a development logger without error", func(t *testing.T) {
		// Act
		logger, err := NewDevelopmentLogger()

		// Assert
		require.NoError(t, err)
		assert.NotNil(t, logger)
	})
}
