package ca

import (
	"testing"
	"time"

	"github.com/arloliu/go-dvb/logger"
	"github.com/arloliu/go-dvb/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig(1, 2, 0)
	require.NoError(err)

	require.Equal("/dev/dvb/adapter1/ca2", cfg.Path())
	require.Equal(uint(1), cfg.Adapter())
	require.Equal(uint(2), cfg.Device())
	require.Equal(uint8(0), cfg.Slot())
	require.Equal(DefaultResetDelay, cfg.ResetDelay())

	count, delay := cfg.CapsRetry()
	require.Equal(DefaultCapsRetryCount, count)
	require.Equal(DefaultCapsRetryDelay, delay)

	require.Equal(DefaultTickInterval, cfg.TickInterval())
	require.Equal(DefaultPollInterval, cfg.PollInterval())
	require.Equal(DefaultResponseTimeout, cfg.ResponseTimeout())
	require.Equal(DefaultWriteTimeout, cfg.WriteTimeout())
	require.NotNil(cfg.Registry())
	require.NotNil(cfg.GetLogger())
	require.NotNil(cfg.opener)
	require.Equal(DefaultReadBufferSize, cfg.readBufferSize)
}

func TestNewConfig_Options(t *testing.T) {
	require := require.New(t)

	registry := resource.NewRegistry()
	l := logger.NewMockLogger()
	cfg, err := NewConfig(0, 0, 1,
		WithRegistry(registry),
		WithLogger(l),
		WithResetDelay(time.Second),
		WithCapsRetry(5, 50*time.Millisecond),
		WithTickInterval(time.Second),
		WithPollInterval(0),
		WithResponseTimeout(5*time.Second),
		WithWriteTimeout(2*time.Second),
		WithReadBufferSize(8192),
	)
	require.NoError(err)

	require.Same(registry, cfg.Registry())
	require.Same(l, cfg.GetLogger())
	require.Equal(time.Second, cfg.ResetDelay())
	count, delay := cfg.CapsRetry()
	require.Equal(5, count)
	require.Equal(50*time.Millisecond, delay)
	require.Equal(time.Second, cfg.TickInterval())
	require.Zero(cfg.PollInterval())
	require.Equal(5*time.Second, cfg.ResponseTimeout())
	require.Equal(2*time.Second, cfg.WriteTimeout())
	require.Equal(8192, cfg.readBufferSize)
}

func TestNewConfig_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"nil logger", WithLogger(nil)},
		{"nil registry", WithRegistry(nil)},
		{"nil opener", WithOpener(nil)},
		{"negative reset delay", WithResetDelay(-time.Millisecond)},
		{"reset delay too long", WithResetDelay(MaxResetDelay + time.Millisecond)},
		{"zero caps retry", WithCapsRetry(0, time.Millisecond)},
		{"too many caps retries", WithCapsRetry(MaxCapsRetryCount+1, time.Millisecond)},
		{"negative caps delay", WithCapsRetry(1, -time.Millisecond)},
		{"tick too short", WithTickInterval(MinTickInterval - time.Millisecond)},
		{"tick too long", WithTickInterval(MaxTickInterval + time.Millisecond)},
		{"negative poll", WithPollInterval(-time.Millisecond)},
		{"zero response timeout", WithResponseTimeout(0)},
		{"zero write timeout", WithWriteTimeout(0)},
		{"small read buffer", WithReadBufferSize(MinReadBufferSize - 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(0, 0, 0, tt.opt)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSlotStateFromFlags(t *testing.T) {
	assert.Equal(t, ModuleNotFound, slotStateFromFlags(FlagModuleNotFound))
	assert.Equal(t, ModulePresent, slotStateFromFlags(FlagModulePresent))
	assert.Equal(t, ModuleReady, slotStateFromFlags(FlagModuleReady))
	assert.Equal(t, ModuleReady, slotStateFromFlags(FlagModulePresent|FlagModuleReady))

	assert.Equal(t, "ready", ModuleReady.String())
	assert.Equal(t, "unknown", SlotState(9).String())
}

func TestProtocolError(t *testing.T) {
	err := protocolError(1, 0x99, "invalid tag 0x%02X", 0x99)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "ca: protocol error on slot 1, tag 0x99: invalid tag 0x99", err.Error())

	err = protocolError(0, 0, "short")
	assert.Equal(t, "ca: protocol error on slot 0: short", err.Error())
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "CA_GET_SLOT_INFO", CmdGetSlotInfo.String())
	assert.Equal(t, "Command(9)", Command(9).String())
	assert.Equal(t, "/dev/dvb/adapter0/ca1", DevicePath(0, 1))
}
