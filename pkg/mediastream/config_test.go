package mediastream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextConfigurationSetFlag(t *testing.T) {
	cfg := newContextConfiguration(0)

	require.NoError(t, cfg.SetFlag(FlagSecureClient))
	assert.True(t, cfg.HasFlag(FlagSecureClient))

	// идемпотентность: повторное применение не меняет маску
	before := cfg.Flags()
	require.NoError(t, cfg.SetFlag(FlagSecureClient))
	assert.Equal(t, before, cfg.Flags())
}

func TestContextConfigurationSetFlagInvalid(t *testing.T) {
	cfg := newContextConfiguration(FlagSecure)
	before := cfg.Flags()

	err := cfg.SetFlag(-1)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
	assert.Equal(t, before, cfg.Flags())

	err = cfg.SetFlag(flagLast)
	assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
	assert.Equal(t, before, cfg.Flags())
}

func TestContextConfigurationInitialFlags(t *testing.T) {
	cfg := newContextConfiguration(FlagFragmentGeneric)
	assert.True(t, cfg.HasFlag(FlagFragmentGeneric))

	// OR с уже установленным начальным флагом
	require.NoError(t, cfg.SetFlag(FlagFragmentGeneric))
	assert.Equal(t, FlagFragmentGeneric, cfg.Flags())
}

func TestContextConfigurationSetValue(t *testing.T) {
	cfg := newContextConfiguration(0)

	require.NoError(t, cfg.SetValue(ValueMTUSize, 1200))
	assert.Equal(t, int64(1200), cfg.Value(ValueMTUSize, 0))
	assert.Equal(t, uint16(1200), cfg.mtu())

	// незаданный ключ возвращает fallback
	assert.Equal(t, int64(42), cfg.Value(ValueUDPSendBufferSize, 42))
}

func TestContextConfigurationMTUBounds(t *testing.T) {
	cfg := newContextConfiguration(0)

	// незаданный MTU дает значение по умолчанию
	assert.Equal(t, uint16(defaultMTUSize), cfg.mtu())

	// граничные значения допустимого диапазона
	require.NoError(t, cfg.SetValue(ValueMTUSize, 1))
	assert.Equal(t, uint16(1), cfg.mtu())

	require.NoError(t, cfg.SetValue(ValueMTUSize, 65535))
	assert.Equal(t, uint16(65535), cfg.mtu())
}

func TestContextConfigurationSetValueInvalid(t *testing.T) {
	cfg := newContextConfiguration(0)
	require.NoError(t, cfg.SetValue(ValueMTUSize, 1200))

	cases := []struct {
		name  string
		key   int
		value int64
	}{
		{"отрицательный ключ", -1, 10},
		{"ключ вне таблицы", valueLast, 10},
		{"отрицательное значение", ValueMTUSize, -5},
		{"нулевой MTU", ValueMTUSize, 0},
		{"MTU вне uint16", ValueMTUSize, 65536},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := cfg.SetValue(tc.key, tc.value)
			assert.True(t, HasErrorCode(err, ErrorCodeInvalidValue))
			// состояние не изменилось
			assert.Equal(t, int64(1200), cfg.Value(ValueMTUSize, 0))
		})
	}
}
